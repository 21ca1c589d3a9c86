package economy

import "github.com/prizeversity/prizeversity/internal/model"

// VoteOutcome — исход подсчёта голосов по запросу сифона.
type VoteOutcome int

const (
	// OutcomeUndecided — исход ещё не определён, голосование продолжается.
	OutcomeUndecided VoteOutcome = iota
	// OutcomeApproved — набрано большинство «за».
	OutcomeApproved
	// OutcomeRejected — большинство «за» математически недостижимо.
	OutcomeRejected
)

// TallyResult — текущий счёт голосов.
type TallyResult struct {
	Yes   int
	No    int
	Total int
}

// EligibleVoters возвращает идентификаторы одобренных участников группы,
// имеющих право голоса по сифону, исключая его цель.
func EligibleVoters(members []model.GroupMember, targetUser int64) []int64 {
	var voters []int64
	for _, m := range members {
		if m.Status != model.MemberStatusApproved || m.UserID == targetUser {
			continue
		}
		voters = append(voters, m.UserID)
	}
	return voters
}

// MajorityThreshold возвращает минимальное число голосов «за», дающее строгое
// большинство среди eligible голосующих: yes > floor(n/2).
func MajorityThreshold(eligible int) int {
	return eligible/2 + 1
}

// Tally подсчитывает голоса.
func Tally(votes []model.SiphonVote) TallyResult {
	var t TallyResult
	for _, v := range votes {
		switch v.Vote {
		case model.VoteYes:
			t.Yes++
		case model.VoteNo:
			t.No++
		}
		t.Total++
	}
	return t
}

// Outcome определяет исход в момент подсчёта: одобрение фиксируется, как только
// «за» достигает большинства, отклонение — как только «против» делает такое
// большинство недостижимым. Не ждёт полного сбора голосов.
func Outcome(t TallyResult, eligible int) VoteOutcome {
	threshold := MajorityThreshold(eligible)
	if t.Yes >= threshold {
		return OutcomeApproved
	}
	if eligible-t.No < threshold {
		return OutcomeRejected
	}
	return OutcomeUndecided
}
