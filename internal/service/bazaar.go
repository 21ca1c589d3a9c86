package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/prizeversity/prizeversity/internal/model"
	"github.com/prizeversity/prizeversity/internal/reward"
)

// BoxPoolInput — элемент пула при создании мистери-бокса.
type BoxPoolInput struct {
	ItemID         string  `json:"itemId"`
	BaseDropChance float64 `json:"baseDropChance"`
}

// BoxInput — параметры создания мистери-бокса.
type BoxInput struct {
	Name               string         `json:"name"`
	Price              int64          `json:"price"`
	LuckMultiplier     float64        `json:"luckMultiplier"`
	PityEnabled        bool           `json:"pityEnabled"`
	PityThreshold      int            `json:"pityThreshold"`
	PityMinimumRarity  model.Rarity   `json:"pityMinimumRarity"`
	MaxOpensPerStudent *int           `json:"maxOpensPerStudent,omitempty"`
	Pool               []BoxPoolInput `json:"pool"`
}

// CreateBazaarItem добавляет обычный предмет в базар класса. Только преподаватель.
func (s *Service) CreateBazaarItem(ctx context.Context, actorID int64, item *model.BazaarItem) error {
	if err := s.requireTeacher(ctx, actorID, item.ClassroomID); err != nil {
		return err
	}
	if item.Name == "" {
		return fmt.Errorf("%w: item name must not be empty", ErrValidation)
	}
	if model.RarityRank(item.Rarity) == 0 {
		return fmt.Errorf("%w: unknown rarity %q", ErrValidation, item.Rarity)
	}
	if item.Category == model.ItemCategoryMysteryBox {
		return fmt.Errorf("%w: mystery boxes are created via the box endpoint", ErrValidation)
	}
	item.ID = uuid.NewString()
	item.Category = model.ItemCategoryGeneric
	return s.repo.CreateBazaarItem(ctx, item)
}

// CreateMysteryBox создаёт мистери-бокс. Инварианты пула (сумма шансов ровно
// 100, без дублей, без вложенных боксов) проверяются до записи; нарушение
// отклоняется с описательной ошибкой.
func (s *Service) CreateMysteryBox(ctx context.Context, actorID, classroomID int64, in BoxInput) (*model.BazaarItem, error) {
	if err := s.requireTeacher(ctx, actorID, classroomID); err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, fmt.Errorf("%w: box name must not be empty", ErrValidation)
	}

	ids := make([]string, 0, len(in.Pool))
	for _, e := range in.Pool {
		ids = append(ids, e.ItemID)
	}
	items, err := s.repo.GetBazaarItems(ctx, classroomID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.BazaarItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	tmpl := &model.MysteryBoxTemplate{
		ClassroomID:        classroomID,
		Name:               in.Name,
		LuckMultiplier:     in.LuckMultiplier,
		PityEnabled:        in.PityEnabled,
		PityThreshold:      in.PityThreshold,
		PityMinimumRarity:  in.PityMinimumRarity,
		MaxOpensPerStudent: in.MaxOpensPerStudent,
	}
	for _, e := range in.Pool {
		it, ok := byID[e.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: pool item %s not found in classroom", ErrValidation, e.ItemID)
		}
		tmpl.Pool = append(tmpl.Pool, model.PoolEntry{
			ItemID:         it.ID,
			Name:           it.Name,
			Category:       it.Category,
			Rarity:         it.Rarity,
			BaseDropChance: e.BaseDropChance,
		})
	}

	if err := reward.ValidateTemplate(*tmpl); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	item := &model.BazaarItem{
		ID:          uuid.NewString(),
		ClassroomID: classroomID,
		Name:        in.Name,
		Category:    model.ItemCategoryMysteryBox,
		Price:       in.Price,
		Rarity:      model.RarityRare,
	}
	tmpl.ItemID = item.ID

	if err := s.repo.CreateMysteryBox(ctx, item, tmpl); err != nil {
		return nil, err
	}
	return item, nil
}

// PurchaseItem покупает предмет базара за битсы ученика.
func (s *Service) PurchaseItem(ctx context.Context, userID, classroomID int64, itemID string) (*model.BazaarItem, error) {
	item, newBalance, err := s.repo.PurchaseItem(ctx, classroomID, userID, itemID)
	if err != nil {
		return nil, err
	}

	s.publish(classroomID, "balance_update", BalanceUpdatePayload{
		StudentID:   userID,
		NewBalance:  newBalance,
		ClassroomID: classroomID,
	})
	return item, nil
}

// OpenBox открывает купленный мистери-бокс и возвращает выпавший предмет.
// Удача берётся со счёта ученика, розыгрыш и списание попытки атомарны.
func (s *Service) OpenBox(ctx context.Context, userID, classroomID int64, boxItemID string) (*model.InventoryItem, error) {
	member, err := s.repo.GetClassroomMember(ctx, classroomID, userID)
	if err != nil {
		return nil, err
	}

	awarded, err := s.repo.OpenBox(ctx, classroomID, userID, boxItemID,
		func(tmpl model.MysteryBoxTemplate, recent []model.Rarity) (reward.Result, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return reward.Open(tmpl, member.Luck, recent, s.rng)
		})
	if err != nil {
		return nil, err
	}
	return awarded, nil
}
