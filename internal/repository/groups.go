package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prizeversity/prizeversity/internal/economy"
	"github.com/prizeversity/prizeversity/internal/model"
)

func scanGroup(row pgx.Row) (*model.Group, error) {
	var g model.Group
	err := row.Scan(&g.ID, &g.GroupSetID, &g.ClassroomID, &g.Name, &g.GroupMultiplier, &g.MultiplierManual, &g.MaxMembers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	return &g, nil
}

const groupColumns = `g.id, g.group_set_id, gs.classroom_id, g.name, g.group_multiplier, g.multiplier_manual, g.max_members`

// GetGroup возвращает группу по идентификатору.
func (r *PostgresRepository) GetGroup(ctx context.Context, id int64) (*model.Group, error) {
	return scanGroup(r.pool.QueryRow(ctx,
		`SELECT `+groupColumns+`
		 FROM groups g JOIN group_sets gs ON gs.id = g.group_set_id
		 WHERE g.id = $1`, id))
}

// GetGroupMembers возвращает всех участников группы, включая ожидающих одобрения.
func (r *PostgresRepository) GetGroupMembers(ctx context.Context, groupID int64) ([]model.GroupMember, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT group_id, user_id, status, join_date
		 FROM group_members WHERE group_id = $1 ORDER BY join_date`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("select group members: %w", err)
	}
	defer rows.Close()

	var res []model.GroupMember
	for rows.Next() {
		var (
			m      model.GroupMember
			status string
		)
		if err := rows.Scan(&m.GroupID, &m.UserID, &status, &m.JoinDate); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		m.Status = model.MemberStatus(status)
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateGroupSet создаёт набор групп внутри класса.
func (r *PostgresRepository) CreateGroupSet(ctx context.Context, gs *model.GroupSet) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO group_sets (classroom_id, name, group_multiplier_increment, max_members)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		gs.ClassroomID, gs.Name, gs.GroupMultiplierIncrement, gs.MaxMembers,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert group set: %w", err)
	}
	return id, nil
}

// CreateGroup создаёт группу в наборе.
func (r *PostgresRepository) CreateGroup(ctx context.Context, g *model.Group) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO groups (group_set_id, name, group_multiplier, multiplier_manual, max_members)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		g.GroupSetID, g.Name, g.GroupMultiplier, g.MultiplierManual, g.MaxMembers,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert group: %w", err)
	}
	return id, nil
}

// JoinGroup создаёт заявку на вступление в группу. Инварианты набора групп:
// не более одного одобренного членства и не более одной заявки на пользователя.
func (r *PostgresRepository) JoinGroup(ctx context.Context, groupID, userID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var groupSetID int64
	var maxMembers *int
	err = tx.QueryRow(ctx,
		`SELECT group_set_id, max_members FROM groups WHERE id = $1 FOR UPDATE`, groupID,
	).Scan(&groupSetID, &maxMembers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock group: %w", err)
	}

	var conflicting int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM group_members gm
		 JOIN groups g ON g.id = gm.group_id
		 WHERE g.group_set_id = $1 AND gm.user_id = $2`,
		groupSetID, userID,
	).Scan(&conflicting)
	if err != nil {
		return fmt.Errorf("count memberships: %w", err)
	}
	if conflicting > 0 {
		return ErrMembershipConflict
	}

	if maxMembers != nil {
		var approved int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND status = $2`,
			groupID, string(model.MemberStatusApproved),
		).Scan(&approved)
		if err != nil {
			return fmt.Errorf("count approved: %w", err)
		}
		if approved >= *maxMembers {
			return ErrGroupFull
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, status) VALUES ($1, $2, $3)`,
		groupID, userID, string(model.MemberStatusPending),
	)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ApproveGroupMember одобряет заявку и синхронно пересчитывает групповой
// множитель. Возвращает новое значение множителя.
func (r *PostgresRepository) ApproveGroupMember(ctx context.Context, groupID, userID int64) (float64, error) {
	return r.mutateMembership(ctx, groupID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE group_members SET status = $3 WHERE group_id = $1 AND user_id = $2 AND status = $4`,
			groupID, userID, string(model.MemberStatusApproved), string(model.MemberStatusPending),
		)
		if err != nil {
			return fmt.Errorf("approve membership: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RemoveGroupMember удаляет членство (отклонение заявки или выход) и синхронно
// пересчитывает групповой множитель.
func (r *PostgresRepository) RemoveGroupMember(ctx context.Context, groupID, userID int64) (float64, error) {
	return r.mutateMembership(ctx, groupID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`,
			groupID, userID,
		)
		if err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *PostgresRepository) mutateMembership(ctx context.Context, groupID int64, mutate func(context.Context, pgx.Tx) error) (float64, error) {
	var multiplier float64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокировка группы сериализует изменения членства и пересчёт множителя.
		var dummy int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&dummy); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock group: %w", err)
		}

		if err := mutate(ctx, tx); err != nil {
			return err
		}

		multiplier, err = recomputeGroupMultiplier(ctx, tx, groupID)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	return multiplier, err
}

// recomputeGroupMultiplier выводит множитель из числа одобренных участников и
// инкремента набора групп (при нулевом — инкремента класса). Вручную
// выставленный множитель не трогается.
func recomputeGroupMultiplier(ctx context.Context, tx pgx.Tx, groupID int64) (float64, error) {
	var (
		manual             bool
		current            float64
		setIncrement       float64
		classroomIncrement float64
	)
	err := tx.QueryRow(ctx,
		`SELECT g.multiplier_manual, g.group_multiplier, gs.group_multiplier_increment, c.group_multiplier_increment
		 FROM groups g
		 JOIN group_sets gs ON gs.id = g.group_set_id
		 JOIN classrooms c ON c.id = gs.classroom_id
		 WHERE g.id = $1`, groupID,
	).Scan(&manual, &current, &setIncrement, &classroomIncrement)
	if err != nil {
		return 0, fmt.Errorf("select group settings: %w", err)
	}

	var approved int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND status = $2`,
		groupID, string(model.MemberStatusApproved),
	).Scan(&approved)
	if err != nil {
		return 0, fmt.Errorf("count approved: %w", err)
	}

	increment := setIncrement
	if increment <= 0 {
		increment = classroomIncrement
	}

	multiplier := economy.GroupMultiplierFor(increment, approved, current, manual)
	if multiplier != current {
		if _, err := tx.Exec(ctx,
			`UPDATE groups SET group_multiplier = $2 WHERE id = $1`, groupID, multiplier); err != nil {
			return 0, fmt.Errorf("update group multiplier: %w", err)
		}
	}
	return multiplier, nil
}

// ApprovedGroupFor возвращает группу класса, в которой пользователь одобрен,
// либо nil, если такой группы нет.
func (r *PostgresRepository) ApprovedGroupFor(ctx context.Context, classroomID, userID int64) (*model.Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx,
		`SELECT `+groupColumns+`
		 FROM groups g
		 JOIN group_sets gs ON gs.id = g.group_set_id
		 JOIN group_members gm ON gm.group_id = g.id
		 WHERE gs.classroom_id = $1 AND gm.user_id = $2 AND gm.status = $3
		 LIMIT 1`,
		classroomID, userID, string(model.MemberStatusApproved)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return g, err
}
