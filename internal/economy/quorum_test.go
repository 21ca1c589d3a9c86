package economy

import (
	"testing"

	"github.com/prizeversity/prizeversity/internal/model"
)

func TestEligibleVoters_ExcludesTargetAndPending(t *testing.T) {
	members := []model.GroupMember{
		{UserID: 1, Status: model.MemberStatusApproved},
		{UserID: 2, Status: model.MemberStatusApproved},
		{UserID: 3, Status: model.MemberStatusPending},
		{UserID: 4, Status: model.MemberStatusApproved},
	}

	voters := EligibleVoters(members, 2)
	if len(voters) != 2 {
		t.Fatalf("eligible voters = %v, want [1 4]", voters)
	}
	for _, v := range voters {
		if v == 2 || v == 3 {
			t.Fatalf("voter %d must be excluded", v)
		}
	}
}

func TestMajorityThreshold(t *testing.T) {
	cases := []struct {
		eligible int
		want     int
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 3},
		{6, 4},
	}

	for _, c := range cases {
		if got := MajorityThreshold(c.eligible); got != c.want {
			t.Fatalf("threshold(%d) = %d, want %d", c.eligible, got, c.want)
		}
	}
}

func votes(yes, no int) []model.SiphonVote {
	var vs []model.SiphonVote
	for i := 0; i < yes; i++ {
		vs = append(vs, model.SiphonVote{UserID: int64(i + 1), Vote: model.VoteYes})
	}
	for i := 0; i < no; i++ {
		vs = append(vs, model.SiphonVote{UserID: int64(100 + i), Vote: model.VoteNo})
	}
	return vs
}

func TestOutcome_ApprovedOnThirdOfFive(t *testing.T) {
	// 5 голосующих: два «за» ещё не решают, третий даёт большинство.
	if got := Outcome(Tally(votes(2, 0)), 5); got != OutcomeUndecided {
		t.Fatalf("2 yes of 5: outcome = %v, want undecided", got)
	}
	if got := Outcome(Tally(votes(3, 0)), 5); got != OutcomeApproved {
		t.Fatalf("3 yes of 5: outcome = %v, want approved", got)
	}
}

func TestOutcome_RejectedAsSoonAsImpossible(t *testing.T) {
	// 4 голосующих, порог 3: после двух «против» большинство «за» недостижимо.
	if got := Outcome(Tally(votes(0, 1)), 4); got != OutcomeUndecided {
		t.Fatalf("1 no of 4: outcome = %v, want undecided", got)
	}
	if got := Outcome(Tally(votes(0, 2)), 4); got != OutcomeRejected {
		t.Fatalf("2 no of 4: outcome = %v, want rejected", got)
	}
}

func TestOutcome_DoesNotWaitForAllVotes(t *testing.T) {
	if got := Outcome(Tally(votes(2, 0)), 3); got != OutcomeApproved {
		t.Fatalf("2 yes of 3: outcome = %v, want approved", got)
	}
}

func TestTally_CountsBothSides(t *testing.T) {
	tl := Tally(votes(2, 3))
	if tl.Yes != 2 || tl.No != 3 || tl.Total != 5 {
		t.Fatalf("tally = %+v", tl)
	}
}
