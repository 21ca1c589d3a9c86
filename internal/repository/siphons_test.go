package repository

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prizeversity/prizeversity/internal/model"
)

// Код присоединения уникален в БД, поэтому каждый тест генерирует свой.
func testJoinCode() string {
	digits := make([]byte, 0, 8)
	for i := 0; i < 7; i++ {
		digits = append(digits, byte('0'+rand.Intn(10)))
	}

	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return string(digits) + string(byte('0'+(10-sum%10)%10))
}

// Тесты ниже требуют живой PostgreSQL и пропускаются без TEST_DATABASE_URI.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createTestUser(t *testing.T, repo *PostgresRepository, ctx context.Context) int64 {
	t.Helper()

	id, err := repo.CreateUser(ctx, "u-"+uuid.NewString(), []byte("hash"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func createTestGroup(t *testing.T, repo *PostgresRepository, ctx context.Context, classroomID int64, members ...int64) int64 {
	t.Helper()

	setID, err := repo.CreateGroupSet(ctx, &model.GroupSet{
		ClassroomID:              classroomID,
		Name:                     "set-" + uuid.NewString(),
		GroupMultiplierIncrement: 0.1,
	})
	if err != nil {
		t.Fatalf("create group set: %v", err)
	}

	groupID, err := repo.CreateGroup(ctx, &model.Group{
		GroupSetID:      setID,
		Name:            "group-" + uuid.NewString(),
		GroupMultiplier: 1.0,
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	for _, userID := range members {
		if err := repo.JoinGroup(ctx, groupID, userID); err != nil {
			t.Fatalf("join group: %v", err)
		}
		if _, err := repo.ApproveGroupMember(ctx, groupID, userID); err != nil {
			t.Fatalf("approve member: %v", err)
		}
	}
	return groupID
}

func createTestSiphon(t *testing.T, repo *PostgresRepository, ctx context.Context, groupID, classroomID, target, initiator int64) *model.SiphonRequest {
	t.Helper()

	now := time.Now()
	req := &model.SiphonRequest{
		ID:          uuid.NewString(),
		GroupID:     groupID,
		ClassroomID: classroomID,
		TargetUser:  target,
		Initiator:   initiator,
		Amount:      10,
		Reason:      "free rider",
		Status:      model.SiphonStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := repo.CreateSiphon(ctx, req); err != nil {
		t.Fatalf("create siphon: %v", err)
	}
	return req
}

// Сифоны из групп разных наборов по одной цели сосуществуют, и у каждого своя
// заморозка: отклонение одного не размораживает счёт, пока жив другой.
func TestCreateSiphon_OverlappingFreezesAreIndependent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	teacher := createTestUser(t, repo, ctx)
	target := createTestUser(t, repo, ctx)
	mateA := createTestUser(t, repo, ctx)
	mateB := createTestUser(t, repo, ctx)

	classroomID, err := repo.CreateClassroom(ctx, &model.Classroom{
		Name:         "class-" + uuid.NewString(),
		JoinCode:     testJoinCode(),
		TeacherID:    teacher,
		TAPolicy:     model.TAPolicyFull,
		SiphonWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("create classroom: %v", err)
	}
	for _, userID := range []int64{target, mateA, mateB} {
		if err := repo.AddClassroomMember(ctx, classroomID, userID, model.RoleStudent); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	groupA := createTestGroup(t, repo, ctx, classroomID, target, mateA, mateB)
	groupB := createTestGroup(t, repo, ctx, classroomID, target, mateA, mateB)

	first := createTestSiphon(t, repo, ctx, groupA, classroomID, target, mateA)
	second := createTestSiphon(t, repo, ctx, groupB, classroomID, target, mateB)

	// Двое голосующих, порог 2: одного «против» хватает, чтобы большинство
	// «за» стало недостижимо и второй сифон отклонился.
	status, _, err := repo.AddSiphonVote(ctx, second.ID, mateA, model.VoteNo)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if status != model.SiphonStatusRejected {
		t.Fatalf("status = %q, want rejected", status)
	}

	frozen, err := repo.IsFrozen(ctx, classroomID, target, time.Now())
	if err != nil {
		t.Fatalf("check freeze: %v", err)
	}
	if !frozen {
		t.Fatalf("target must stay frozen while siphon %s is pending", first.ID)
	}

	// Отклонение последнего активного сифона снимает заморозку полностью.
	if _, _, err := repo.AddSiphonVote(ctx, first.ID, mateB, model.VoteNo); err != nil {
		t.Fatalf("vote: %v", err)
	}
	frozen, err = repo.IsFrozen(ctx, classroomID, target, time.Now())
	if err != nil {
		t.Fatalf("check freeze: %v", err)
	}
	if frozen {
		t.Fatalf("no active siphons remain, freeze must be lifted")
	}
}

// Право голоса проверяется в транзакции записи: участник, вышедший из группы
// после предварительной проверки, голос не запишет.
func TestAddSiphonVote_EligibilityRecheckedInTx(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	teacher := createTestUser(t, repo, ctx)
	target := createTestUser(t, repo, ctx)
	mateA := createTestUser(t, repo, ctx)
	mateB := createTestUser(t, repo, ctx)

	classroomID, err := repo.CreateClassroom(ctx, &model.Classroom{
		Name:         "class-" + uuid.NewString(),
		JoinCode:     testJoinCode(),
		TeacherID:    teacher,
		TAPolicy:     model.TAPolicyFull,
		SiphonWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("create classroom: %v", err)
	}
	for _, userID := range []int64{target, mateA, mateB} {
		if err := repo.AddClassroomMember(ctx, classroomID, userID, model.RoleStudent); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	groupID := createTestGroup(t, repo, ctx, classroomID, target, mateA, mateB)
	req := createTestSiphon(t, repo, ctx, groupID, classroomID, target, mateA)

	if _, err := repo.RemoveGroupMember(ctx, groupID, mateB); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	if _, _, err := repo.AddSiphonVote(ctx, req.ID, mateB, model.VoteYes); !errors.Is(err, ErrVoterNotEligible) {
		t.Fatalf("expected ErrVoterNotEligible, got %v", err)
	}

	// Цель не голосует никогда.
	if _, _, err := repo.AddSiphonVote(ctx, req.ID, target, model.VoteYes); !errors.Is(err, ErrVoterNotEligible) {
		t.Fatalf("expected ErrVoterNotEligible for target, got %v", err)
	}
}
