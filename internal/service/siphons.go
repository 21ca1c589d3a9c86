package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prizeversity/prizeversity/internal/economy"
	"github.com/prizeversity/prizeversity/internal/model"
)

// SiphonVoteResult — состояние сифона после учтённого голоса.
type SiphonVoteResult struct {
	Status model.SiphonStatus  `json:"status"`
	Tally  economy.TallyResult `json:"tally"`
}

// CreateSiphon создаёт запрос на сифон от одобренного участника группы к
// одногруппнику. Цель немедленно замораживается до разрешения запроса.
func (s *Service) CreateSiphon(ctx context.Context, initiatorID, groupID, targetID, amount int64, reason, proof string) (*model.SiphonRequest, error) {
	if amount < 1 {
		return nil, fmt.Errorf("%w: siphon amount must be at least 1", ErrValidation)
	}
	if initiatorID == targetID {
		return nil, fmt.Errorf("%w: cannot siphon yourself", ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: siphon reason must not be empty", ErrValidation)
	}

	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members, err := s.repo.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if !isApproved(members, initiatorID) {
		return nil, fmt.Errorf("%w: initiator is not an approved group member", ErrPolicy)
	}
	if !isApproved(members, targetID) {
		return nil, fmt.Errorf("%w: target is not an approved group member", ErrValidation)
	}

	c, err := s.repo.GetClassroom(ctx, g.ClassroomID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	req := &model.SiphonRequest{
		ID:          uuid.NewString(),
		GroupID:     groupID,
		ClassroomID: g.ClassroomID,
		TargetUser:  targetID,
		Initiator:   initiatorID,
		Amount:      amount,
		Reason:      reason,
		Proof:       proof,
		Status:      model.SiphonStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.SiphonWindow),
	}

	if err := s.repo.CreateSiphon(ctx, req); err != nil {
		return nil, err
	}

	s.publish(g.ClassroomID, "siphon_create", req)
	return req, nil
}

func isApproved(members []model.GroupMember, userID int64) bool {
	for _, m := range members {
		if m.UserID == userID && m.Status == model.MemberStatusApproved {
			return true
		}
	}
	return false
}

// VoteSiphon учитывает голос имеющего право участника. Итог пересчитывается на
// каждом голосе и фиксируется, как только он определён. Право голоса
// проверяется здесь для быстрого отказа и ещё раз в транзакции записи голоса,
// где же пересчитывается и число голосующих.
func (s *Service) VoteSiphon(ctx context.Context, voterID int64, siphonID string, vote model.Vote) (*SiphonVoteResult, error) {
	if vote != model.VoteYes && vote != model.VoteNo {
		return nil, fmt.Errorf("%w: vote must be yes or no", ErrValidation)
	}

	req, err := s.repo.GetSiphon(ctx, siphonID)
	if err != nil {
		return nil, err
	}

	members, err := s.repo.GetGroupMembers(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}

	voters := economy.EligibleVoters(members, req.TargetUser)
	eligible := false
	for _, v := range voters {
		if v == voterID {
			eligible = true
			break
		}
	}
	if !eligible {
		return nil, ErrNotEligible
	}

	status, tally, err := s.repo.AddSiphonVote(ctx, siphonID, voterID, vote)
	if err != nil {
		return nil, err
	}

	s.publish(req.ClassroomID, "siphon_vote", map[string]any{
		"siphonId": siphonID,
		"userId":   voterID,
		"tally":    tally,
	})
	if status != model.SiphonStatusPending {
		req.Status = status
		s.publish(req.ClassroomID, "siphon_update", req)
	}

	return &SiphonVoteResult{Status: status, Tally: tally}, nil
}

// TeacherApproveSiphon одобряет сифон, прошедший групповое голосование:
// сумма переводится от цели инициатору по номиналу и заморозка снимается.
func (s *Service) TeacherApproveSiphon(ctx context.Context, actorID int64, siphonID string) (*model.SiphonRequest, error) {
	return s.decideSiphon(ctx, actorID, siphonID, true)
}

// TeacherRejectSiphon отклоняет сифон без перевода и снимает заморозку.
func (s *Service) TeacherRejectSiphon(ctx context.Context, actorID int64, siphonID string) (*model.SiphonRequest, error) {
	return s.decideSiphon(ctx, actorID, siphonID, false)
}

func (s *Service) decideSiphon(ctx context.Context, actorID int64, siphonID string, approve bool) (*model.SiphonRequest, error) {
	req, err := s.repo.GetSiphon(ctx, siphonID)
	if err != nil {
		return nil, err
	}

	if err := s.requireTeacher(ctx, actorID, req.ClassroomID); err != nil {
		return nil, err
	}

	decided, err := s.repo.DecideSiphon(ctx, siphonID, approve, actorID)
	if err != nil {
		return nil, err
	}

	s.publish(decided.ClassroomID, "siphon_update", decided)

	if decided.Status == model.SiphonStatusTeacherApproved {
		for _, userID := range []int64{decided.TargetUser, decided.Initiator} {
			member, err := s.repo.GetClassroomMember(ctx, decided.ClassroomID, userID)
			if err != nil {
				continue
			}
			s.publish(decided.ClassroomID, "balance_update", BalanceUpdatePayload{
				StudentID:   userID,
				NewBalance:  member.Balance,
				ClassroomID: decided.ClassroomID,
			})
		}
	}

	return decided, nil
}

// StartSiphonSweep запускает фоновую проверку просроченных сифонов. Просрочка
// переводит запрос в expired и снимает заморозку цели; ошибки логируются и
// повторяются на следующем тике, наружу не поднимаются.
func (s *Service) StartSiphonSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()
}

func (s *Service) sweepOnce(ctx context.Context) {
	expired, err := s.repo.ExpireDueSiphons(ctx, time.Now())
	if err != nil {
		s.logger.Error("siphon sweep failed", zap.Error(err))
		return
	}

	for i := range expired {
		s.publish(expired[i].ClassroomID, "siphon_update", &expired[i])
	}

	if len(expired) > 0 {
		s.logger.Info("expired due siphons", zap.Int("count", len(expired)))
	}
}
