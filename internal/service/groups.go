package service

import (
	"context"
	"fmt"

	"github.com/prizeversity/prizeversity/internal/model"
)

// CreateGroupSet создаёт набор групп в классе. Только преподаватель.
func (s *Service) CreateGroupSet(ctx context.Context, actorID int64, gs *model.GroupSet) (int64, error) {
	if err := s.requireTeacher(ctx, actorID, gs.ClassroomID); err != nil {
		return 0, err
	}
	if gs.Name == "" {
		return 0, fmt.Errorf("%w: group set name must not be empty", ErrValidation)
	}
	return s.repo.CreateGroupSet(ctx, gs)
}

// CreateGroup создаёт группу в наборе. Только преподаватель.
func (s *Service) CreateGroup(ctx context.Context, actorID, classroomID int64, g *model.Group) (int64, error) {
	if err := s.requireTeacher(ctx, actorID, classroomID); err != nil {
		return 0, err
	}
	if g.Name == "" {
		return 0, fmt.Errorf("%w: group name must not be empty", ErrValidation)
	}
	if g.GroupMultiplier <= 0 {
		g.GroupMultiplier = 1.0
	}
	return s.repo.CreateGroup(ctx, g)
}

// JoinGroup подаёт заявку ученика на вступление в группу.
func (s *Service) JoinGroup(ctx context.Context, userID, groupID int64) error {
	return s.repo.JoinGroup(ctx, groupID, userID)
}

// ApproveGroupMember одобряет заявку участника. Групповой множитель
// пересчитывается синхронно, новое значение уходит событием group_update.
func (s *Service) ApproveGroupMember(ctx context.Context, actorID, groupID, userID int64) error {
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.requireTeacher(ctx, actorID, g.ClassroomID); err != nil {
		return err
	}

	multiplier, err := s.repo.ApproveGroupMember(ctx, groupID, userID)
	if err != nil {
		return err
	}

	s.publishGroupUpdate(g, multiplier)
	return nil
}

// LeaveGroup убирает участника из группы: сам вышел либо преподаватель
// отклонил заявку или исключил. Множитель пересчитывается синхронно.
func (s *Service) LeaveGroup(ctx context.Context, actorID, groupID, userID int64) error {
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if actorID != userID {
		if err := s.requireTeacher(ctx, actorID, g.ClassroomID); err != nil {
			return err
		}
	}

	multiplier, err := s.repo.RemoveGroupMember(ctx, groupID, userID)
	if err != nil {
		return err
	}

	s.publishGroupUpdate(g, multiplier)
	return nil
}

func (s *Service) publishGroupUpdate(g *model.Group, multiplier float64) {
	s.publish(g.ClassroomID, "group_update", map[string]any{
		"groupId":         g.ID,
		"groupMultiplier": multiplier,
	})
}

// GetGroupMembers возвращает участников группы.
func (s *Service) GetGroupMembers(ctx context.Context, groupID int64) ([]model.GroupMember, error) {
	return s.repo.GetGroupMembers(ctx, groupID)
}
