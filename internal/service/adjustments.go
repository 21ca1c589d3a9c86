package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/prizeversity/prizeversity/internal/economy"
	"github.com/prizeversity/prizeversity/internal/model"
	"github.com/prizeversity/prizeversity/internal/repository"
)

// AppliedAdjustment — успешно применённая корректировка по одной цели.
type AppliedAdjustment struct {
	StudentID   int64   `json:"studentId"`
	FinalAmount int64   `json:"finalAmount"`
	NewBalance  int64   `json:"newBalance"`
	Personal    float64 `json:"appliedPersonalMultiplier"`
	Group       float64 `json:"appliedGroupMultiplier"`
}

// FailedAdjustment — цель, по которой запись не удалась; пакет не принимается
// молча, список отдаётся вызывающему явно.
type FailedAdjustment struct {
	StudentID int64  `json:"studentId"`
	Reason    string `json:"reason"`
}

// BulkResult — итог пакетной корректировки: применённые цели, пропущенные
// (заблокированные) ученики и, для политики approval, идентификатор
// отложенного пакета.
type BulkResult struct {
	Applied   []AppliedAdjustment `json:"applied"`
	Skipped   []int64             `json:"skipped,omitempty"`
	Failed    []FailedAdjustment  `json:"failed,omitempty"`
	PendingID string              `json:"pendingId,omitempty"`
}

// Pending сообщает, что пакет поставлен в очередь, а не применён.
func (r BulkResult) Pending() bool { return r.PendingID != "" }

// BulkAdjust применяет пакет корректировок балансов. Преподаватель и ассистент
// при политике full применяют сразу; ассистент при политике approval ставит
// пакет в очередь на решение преподавателя. Заблокированные ученики молча
// пропускаются и возвращаются в списке skipped.
func (s *Service) BulkAdjust(ctx context.Context, actorID, classroomID int64, targets []model.AdjustmentTarget, description string, applyPersonal, applyGroup bool) (*BulkResult, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: adjustment batch is empty", ErrValidation)
	}
	for _, t := range targets {
		if t.Amount == 0 {
			return nil, fmt.Errorf("%w: zero amount for student %d", ErrValidation, t.StudentID)
		}
	}

	actor, err := s.repo.GetClassroomMember(ctx, classroomID, actorID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case model.RoleTeacher:
	case model.RoleTA:
		c, err := s.repo.GetClassroom(ctx, classroomID)
		if err != nil {
			return nil, err
		}
		if c.TAPolicy == model.TAPolicyApproval {
			return s.enqueueAdjustment(ctx, actorID, classroomID, targets, description, applyPersonal, applyGroup)
		}
	default:
		return nil, fmt.Errorf("%w: students cannot adjust balances", ErrPolicy)
	}

	return s.applyBatch(ctx, actorID, classroomID, targets, description, applyPersonal, applyGroup)
}

func (s *Service) enqueueAdjustment(ctx context.Context, actorID, classroomID int64, targets []model.AdjustmentTarget, description string, applyPersonal, applyGroup bool) (*BulkResult, error) {
	p := &model.PendingAdjustment{
		ID:            uuid.NewString(),
		ClassroomID:   classroomID,
		RequestedBy:   actorID,
		Description:   description,
		ApplyPersonal: applyPersonal,
		ApplyGroup:    applyGroup,
		Targets:       targets,
	}
	if err := s.repo.CreatePendingAdjustment(ctx, p); err != nil {
		return nil, err
	}
	return &BulkResult{PendingID: p.ID}, nil
}

func (s *Service) applyBatch(ctx context.Context, actorID, classroomID int64, targets []model.AdjustmentTarget, description string, applyPersonal, applyGroup bool) (*BulkResult, error) {
	banned, err := s.repo.GetBannedSet(ctx, classroomID)
	if err != nil {
		return nil, err
	}

	res := &BulkResult{}
	for _, t := range targets {
		if _, ok := banned[t.StudentID]; ok {
			res.Skipped = append(res.Skipped, t.StudentID)
			continue
		}

		member, err := s.repo.GetClassroomMember(ctx, classroomID, t.StudentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				res.Failed = append(res.Failed, FailedAdjustment{StudentID: t.StudentID, Reason: "not a classroom member"})
				continue
			}
			return nil, err
		}

		groupMultiplier := 1.0
		if applyGroup && t.Amount > 0 {
			g, err := s.repo.ApprovedGroupFor(ctx, classroomID, t.StudentID)
			if err != nil {
				return nil, err
			}
			if g != nil {
				groupMultiplier = g.GroupMultiplier
			}
		}

		applied := economy.ApplyMultipliers(t.Amount, member.PersonalMultiplier, groupMultiplier, applyPersonal, applyGroup)

		newBalance, err := s.repo.ApplyAdjustment(ctx, repository.AdjustmentRecord{
			ClassroomID:     classroomID,
			UserID:          t.StudentID,
			Amount:          applied.FinalAmount,
			Description:     description,
			AssignedBy:      &actorID,
			AppliedPersonal: applied.AppliedPersonal,
			AppliedGroup:    applied.AppliedGroup,
		})
		if err != nil {
			res.Failed = append(res.Failed, FailedAdjustment{StudentID: t.StudentID, Reason: err.Error()})
			continue
		}

		res.Applied = append(res.Applied, AppliedAdjustment{
			StudentID:   t.StudentID,
			FinalAmount: applied.FinalAmount,
			NewBalance:  newBalance,
			Personal:    applied.AppliedPersonal,
			Group:       applied.AppliedGroup,
		})

		s.publish(classroomID, "balance_update", BalanceUpdatePayload{
			StudentID:   t.StudentID,
			NewBalance:  newBalance,
			ClassroomID: classroomID,
		})
	}

	return res, nil
}

// ReviewPendingAdjustment применяет или отклоняет отложенный пакет. Только
// преподаватель класса; применение идёт тем же путём, что и прямые
// корректировки.
func (s *Service) ReviewPendingAdjustment(ctx context.Context, actorID int64, pendingID string, approve bool) (*BulkResult, error) {
	p, err := s.repo.GetPendingAdjustment(ctx, pendingID)
	if err != nil {
		return nil, err
	}

	if err := s.requireTeacher(ctx, actorID, p.ClassroomID); err != nil {
		return nil, err
	}

	status := model.PendingStatusDiscarded
	if approve {
		status = model.PendingStatusApplied
	}
	if err := s.repo.ResolvePendingAdjustment(ctx, pendingID, status); err != nil {
		return nil, err
	}

	if !approve {
		return &BulkResult{}, nil
	}

	return s.applyBatch(ctx, p.RequestedBy, p.ClassroomID, p.Targets, p.Description, p.ApplyPersonal, p.ApplyGroup)
}
