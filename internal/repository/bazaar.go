package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prizeversity/prizeversity/internal/model"
	"github.com/prizeversity/prizeversity/internal/reward"
)

// CreateBazaarItem добавляет предмет в базар класса.
func (r *PostgresRepository) CreateBazaarItem(ctx context.Context, item *model.BazaarItem) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO bazaar_items (id, classroom_id, name, category, price, rarity)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.ClassroomID, item.Name, string(item.Category), item.Price, string(item.Rarity),
	)
	if err != nil {
		return fmt.Errorf("insert bazaar item: %w", err)
	}
	return nil
}

// GetBazaarItems возвращает предметы класса по списку идентификаторов.
func (r *PostgresRepository) GetBazaarItems(ctx context.Context, classroomID int64, ids []string) ([]model.BazaarItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, classroom_id, name, category, price, rarity
		 FROM bazaar_items WHERE classroom_id = $1 AND id = ANY($2)`,
		classroomID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var res []model.BazaarItem
	for rows.Next() {
		var (
			it               model.BazaarItem
			category, rarity string
		)
		if err := rows.Scan(&it.ID, &it.ClassroomID, &it.Name, &category, &it.Price, &rarity); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Category = model.ItemCategory(category)
		it.Rarity = model.Rarity(rarity)
		res = append(res, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateMysteryBox сохраняет шаблон мистери-бокса вместе с предметом базара и
// пулом наград. Инварианты пула проверяются вызывающей стороной до записи.
func (r *PostgresRepository) CreateMysteryBox(ctx context.Context, item *model.BazaarItem, tmpl *model.MysteryBoxTemplate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO bazaar_items (id, classroom_id, name, category, price, rarity)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.ClassroomID, item.Name, string(model.ItemCategoryMysteryBox), item.Price, string(item.Rarity),
	)
	if err != nil {
		return fmt.Errorf("insert box item: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO mystery_box_templates (item_id, luck_multiplier, pity_enabled, pity_threshold, pity_minimum_rarity, max_opens_per_student)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, tmpl.LuckMultiplier, tmpl.PityEnabled, tmpl.PityThreshold, string(tmpl.PityMinimumRarity), tmpl.MaxOpensPerStudent,
	)
	if err != nil {
		return fmt.Errorf("insert box template: %w", err)
	}

	for _, e := range tmpl.Pool {
		_, err = tx.Exec(ctx,
			`INSERT INTO mystery_box_pool (box_item_id, item_id, base_drop_chance) VALUES ($1, $2, $3)`,
			item.ID, e.ItemID, e.BaseDropChance,
		)
		if err != nil {
			return fmt.Errorf("insert pool entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetBoxTemplate возвращает шаблон мистери-бокса с пулом наград.
func (r *PostgresRepository) GetBoxTemplate(ctx context.Context, itemID string) (*model.MysteryBoxTemplate, error) {
	tmpl, err := getBoxTemplate(ctx, r.pool, itemID)
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getBoxTemplate(ctx context.Context, q querier, itemID string) (*model.MysteryBoxTemplate, error) {
	var (
		tmpl      model.MysteryBoxTemplate
		minRarity string
	)
	err := q.QueryRow(ctx,
		`SELECT t.item_id, b.classroom_id, b.name, t.luck_multiplier, t.pity_enabled, t.pity_threshold, t.pity_minimum_rarity, t.max_opens_per_student
		 FROM mystery_box_templates t
		 JOIN bazaar_items b ON b.id = t.item_id
		 WHERE t.item_id = $1`, itemID,
	).Scan(&tmpl.ItemID, &tmpl.ClassroomID, &tmpl.Name, &tmpl.LuckMultiplier, &tmpl.PityEnabled,
		&tmpl.PityThreshold, &minRarity, &tmpl.MaxOpensPerStudent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get box template: %w", err)
	}
	tmpl.PityMinimumRarity = model.Rarity(minRarity)

	rows, err := q.Query(ctx,
		`SELECT p.item_id, b.name, b.category, b.rarity, p.base_drop_chance
		 FROM mystery_box_pool p
		 JOIN bazaar_items b ON b.id = p.item_id
		 WHERE p.box_item_id = $1
		 ORDER BY p.item_id`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("select pool: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                model.PoolEntry
			category, rarity string
		)
		if err := rows.Scan(&e.ItemID, &e.Name, &category, &rarity, &e.BaseDropChance); err != nil {
			return nil, fmt.Errorf("scan pool entry: %w", err)
		}
		e.Category = model.ItemCategory(category)
		e.Rarity = model.Rarity(rarity)
		tmpl.Pool = append(tmpl.Pool, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return &tmpl, nil
}

// PurchaseItem списывает цену предмета с баланса ученика. Замороженный счёт
// покупать не может. Мистери-бокс становится доступным для открытий, обычный
// предмет клонируется в инвентарь.
func (r *PostgresRepository) PurchaseItem(ctx context.Context, classroomID, userID int64, itemID string) (*model.BazaarItem, int64, error) {
	var (
		item       model.BazaarItem
		newBalance int64
	)
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var frozen bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM account_freezes
			   WHERE classroom_id = $1 AND user_id = $2 AND expires_at > now()
			 )`, classroomID, userID,
		).Scan(&frozen)
		if err != nil {
			return fmt.Errorf("check freeze: %w", err)
		}
		if frozen {
			return ErrAccountFrozen
		}

		var category, rarity string
		err = tx.QueryRow(ctx,
			`SELECT id, classroom_id, name, category, price, rarity
			 FROM bazaar_items WHERE id = $1 AND classroom_id = $2`,
			itemID, classroomID,
		).Scan(&item.ID, &item.ClassroomID, &item.Name, &category, &item.Price, &rarity)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select item: %w", err)
		}
		item.Category = model.ItemCategory(category)
		item.Rarity = model.Rarity(rarity)

		var balance int64
		err = tx.QueryRow(ctx,
			`SELECT balance FROM classroom_members
			 WHERE classroom_id = $1 AND user_id = $2 FOR UPDATE`,
			classroomID, userID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock member: %w", err)
		}

		if balance < item.Price {
			return ErrInsufficientBalance
		}
		newBalance = balance - item.Price

		_, err = tx.Exec(ctx,
			`UPDATE classroom_members SET balance = $3
			 WHERE classroom_id = $1 AND user_id = $2`,
			classroomID, userID, newBalance,
		)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, classroom_id, user_id, amount, description)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), classroomID, userID, -item.Price, "bazaar purchase: "+item.Name,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if item.Category == model.ItemCategoryMysteryBox {
			_, err = tx.Exec(ctx,
				`INSERT INTO owned_boxes (user_id, box_item_id, classroom_id)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (user_id, box_item_id) DO NOTHING`,
				userID, item.ID, classroomID,
			)
			if err != nil {
				return fmt.Errorf("insert owned box: %w", err)
			}
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO inventory_items (id, user_id, classroom_id, source_item_id, name, rarity)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.NewString(), userID, classroomID, item.ID, item.Name, string(item.Rarity),
			)
			if err != nil {
				return fmt.Errorf("insert inventory item: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &item, newBalance, nil
}

// OpenBox атомарно разыгрывает одну награду мистери-бокса: строка владения
// блокируется, лимит открытий проверяется и уменьшается в той же транзакции,
// награда клонируется в инвентарь, тир пишется в кольцо последних открытий и в
// журнал добавляется запись о выдаче. Сам бросок выполняет переданный roll.
func (r *PostgresRepository) OpenBox(
	ctx context.Context,
	classroomID, userID int64,
	boxItemID string,
	roll func(tmpl model.MysteryBoxTemplate, recent []model.Rarity) (reward.Result, error),
) (*model.InventoryItem, error) {
	var awarded *model.InventoryItem
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tmpl, err := getBoxTemplate(ctx, tx, boxItemID)
		if err != nil {
			return err
		}

		var (
			opensUsed int
			recentRaw string
		)
		err = tx.QueryRow(ctx,
			`SELECT opens_used, recent_opens FROM owned_boxes
			 WHERE user_id = $1 AND box_item_id = $2 FOR UPDATE`,
			userID, boxItemID,
		).Scan(&opensUsed, &recentRaw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBoxNotOwned
			}
			return fmt.Errorf("lock owned box: %w", err)
		}

		if tmpl.MaxOpensPerStudent != nil && opensUsed >= *tmpl.MaxOpensPerStudent {
			return ErrBoxDepleted
		}

		recent := decodeRecent(recentRaw)
		res, err := roll(*tmpl, recent)
		if err != nil {
			return err
		}

		recent = reward.PushRecent(*tmpl, recent, res.Item.Rarity, res.PityFired)

		_, err = tx.Exec(ctx,
			`UPDATE owned_boxes SET opens_used = opens_used + 1, recent_opens = $3
			 WHERE user_id = $1 AND box_item_id = $2`,
			userID, boxItemID, encodeRecent(recent),
		)
		if err != nil {
			return fmt.Errorf("update owned box: %w", err)
		}

		inv := &model.InventoryItem{
			ID:           uuid.NewString(),
			UserID:       userID,
			ClassroomID:  classroomID,
			SourceItemID: res.Item.ItemID,
			Name:         res.Item.Name,
			Rarity:       res.Item.Rarity,
			AcquiredAt:   time.Now(),
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO inventory_items (id, user_id, classroom_id, source_item_id, name, rarity, acquired_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			inv.ID, inv.UserID, inv.ClassroomID, inv.SourceItemID, inv.Name, string(inv.Rarity), inv.AcquiredAt,
		)
		if err != nil {
			return fmt.Errorf("insert inventory item: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, classroom_id, user_id, amount, description)
			 VALUES ($1, $2, $3, 0, $4)`,
			uuid.NewString(), classroomID, userID,
			fmt.Sprintf("mystery box %s: awarded %s (%s)", tmpl.Name, res.Item.Name, res.Item.Rarity),
		)
		if err != nil {
			return fmt.Errorf("insert reward log: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		awarded = inv
		return nil
	})
	return awarded, err
}

func encodeRecent(recent []model.Rarity) string {
	parts := make([]string, 0, len(recent))
	for _, r := range recent {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

func decodeRecent(raw string) []model.Rarity {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	res := make([]model.Rarity, 0, len(parts))
	for _, p := range parts {
		res = append(res, model.Rarity(p))
	}
	return res
}
