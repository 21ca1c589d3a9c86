package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prizeversity/prizeversity/internal/economy"
	"github.com/prizeversity/prizeversity/internal/model"
)

const siphonColumns = `id, group_id, classroom_id, target_user, initiator, amount, reason, proof, status, created_at, expires_at`

func scanSiphon(row pgx.Row) (*model.SiphonRequest, error) {
	var (
		s      model.SiphonRequest
		status string
	)
	err := row.Scan(&s.ID, &s.GroupID, &s.ClassroomID, &s.TargetUser, &s.Initiator,
		&s.Amount, &s.Reason, &s.Proof, &status, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan siphon: %w", err)
	}
	s.Status = model.SiphonStatus(status)
	return &s, nil
}

// CreateSiphon создаёт запрос сифона и сразу замораживает траты цели на срок
// действия запроса. Активный сифон по той же цели — конфликт.
func (r *PostgresRepository) CreateSiphon(ctx context.Context, s *model.SiphonRequest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO siphon_requests (id, group_id, classroom_id, target_user, initiator, amount, reason, proof, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.GroupID, s.ClassroomID, s.TargetUser, s.Initiator, s.Amount, s.Reason, s.Proof,
		string(model.SiphonStatusPending), s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrActiveSiphonExists
		}
		return fmt.Errorf("insert siphon: %w", err)
	}

	// Каждый сифон держит собственную заморозку: параллельный сифон из группы
	// другого набора добавляет вторую строку, а не перезаписывает первую.
	_, err = tx.Exec(ctx,
		`INSERT INTO account_freezes (classroom_id, user_id, siphon_id, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		s.ClassroomID, s.TargetUser, s.ID, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert freeze: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetSiphon возвращает запрос сифона по идентификатору.
func (r *PostgresRepository) GetSiphon(ctx context.Context, id string) (*model.SiphonRequest, error) {
	return scanSiphon(r.pool.QueryRow(ctx,
		`SELECT `+siphonColumns+` FROM siphon_requests WHERE id = $1`, id))
}

// GetSiphonVotes возвращает голоса по запросу сифона.
func (r *PostgresRepository) GetSiphonVotes(ctx context.Context, siphonID string) ([]model.SiphonVote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT siphon_id, user_id, vote, voted_at
		 FROM siphon_votes WHERE siphon_id = $1 ORDER BY voted_at`,
		siphonID,
	)
	if err != nil {
		return nil, fmt.Errorf("select votes: %w", err)
	}
	defer rows.Close()

	var res []model.SiphonVote
	for rows.Next() {
		var (
			v    model.SiphonVote
			vote string
		)
		if err := rows.Scan(&v.SiphonID, &v.UserID, &vote, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Vote = model.Vote(vote)
		res = append(res, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// AddSiphonVote фиксирует голос и пересчитывает итог под блокировкой строки
// запроса, чтобы конкурентные голоса не теряли обновления. Право голоса и
// число голосующих пересчитываются в той же транзакции: гонка с одобрением
// или выходом участника не оставит порог на устаревшем составе. Как только
// исход определён, статус переводится немедленно; отклонение снимает
// заморозку цели.
func (r *PostgresRepository) AddSiphonVote(ctx context.Context, siphonID string, userID int64, vote model.Vote) (model.SiphonStatus, economy.TallyResult, error) {
	var (
		status model.SiphonStatus
		tally  economy.TallyResult
	)
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var current string
		var groupID, classroomID, targetUser int64
		err = tx.QueryRow(ctx,
			`SELECT status, group_id, classroom_id, target_user FROM siphon_requests WHERE id = $1 FOR UPDATE`,
			siphonID,
		).Scan(&current, &groupID, &classroomID, &targetUser)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock siphon: %w", err)
		}

		if model.SiphonStatus(current) != model.SiphonStatusPending {
			return ErrSiphonNotPending
		}

		var eligible int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM group_members
			 WHERE group_id = $1 AND status = $2 AND user_id <> $3`,
			groupID, string(model.MemberStatusApproved), targetUser,
		).Scan(&eligible)
		if err != nil {
			return fmt.Errorf("count eligible voters: %w", err)
		}

		if userID == targetUser {
			return ErrVoterNotEligible
		}
		var voterApproved bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM group_members
			   WHERE group_id = $1 AND user_id = $2 AND status = $3
			 )`,
			groupID, userID, string(model.MemberStatusApproved),
		).Scan(&voterApproved)
		if err != nil {
			return fmt.Errorf("check voter: %w", err)
		}
		if !voterApproved {
			return ErrVoterNotEligible
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO siphon_votes (siphon_id, user_id, vote) VALUES ($1, $2, $3)`,
			siphonID, userID, string(vote),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrAlreadyVoted
			}
			return fmt.Errorf("insert vote: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT vote FROM siphon_votes WHERE siphon_id = $1`, siphonID)
		if err != nil {
			return fmt.Errorf("select votes: %w", err)
		}
		votes, err := collectVotes(rows)
		if err != nil {
			return err
		}

		tally = economy.Tally(votes)
		status = model.SiphonStatusPending

		switch economy.Outcome(tally, eligible) {
		case economy.OutcomeApproved:
			status = model.SiphonStatusGroupApproved
		case economy.OutcomeRejected:
			status = model.SiphonStatusRejected
		}

		if status != model.SiphonStatusPending {
			_, err = tx.Exec(ctx,
				`UPDATE siphon_requests SET status = $2 WHERE id = $1`, siphonID, string(status))
			if err != nil {
				return fmt.Errorf("update siphon status: %w", err)
			}

			if status == model.SiphonStatusRejected {
				if err := deleteFreeze(ctx, tx, classroomID, targetUser, siphonID); err != nil {
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	return status, tally, err
}

func collectVotes(rows pgx.Rows) ([]model.SiphonVote, error) {
	defer rows.Close()

	var votes []model.SiphonVote
	for rows.Next() {
		var vote string
		if err := rows.Scan(&vote); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, model.SiphonVote{Vote: model.Vote(vote)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return votes, nil
}

func deleteFreeze(ctx context.Context, tx pgx.Tx, classroomID, userID int64, siphonID string) error {
	_, err := tx.Exec(ctx,
		`DELETE FROM account_freezes WHERE classroom_id = $1 AND user_id = $2 AND siphon_id = $3`,
		classroomID, userID, siphonID,
	)
	if err != nil {
		return fmt.Errorf("delete freeze: %w", err)
	}
	return nil
}

// DecideSiphon применяет решение преподавателя по одобренному группой сифону.
// Одобрение переводит сумму от цели инициатору по номиналу, без множителей;
// нехватка средств у цели оставляет запрос в group_approved для повторной
// попытки. Обе строки балансов блокируются в порядке возрастания user_id.
func (r *PostgresRepository) DecideSiphon(ctx context.Context, siphonID string, approve bool, decidedBy int64) (*model.SiphonRequest, error) {
	var res *model.SiphonRequest
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		s, err := scanSiphon(tx.QueryRow(ctx,
			`SELECT `+siphonColumns+` FROM siphon_requests WHERE id = $1 FOR UPDATE`, siphonID))
		if err != nil {
			return err
		}

		if s.Status != model.SiphonStatusGroupApproved {
			return ErrSiphonNotDecidable
		}

		if !approve {
			s.Status = model.SiphonStatusTeacherRejected
		} else {
			if err := transferSiphonAmount(ctx, tx, s, decidedBy); err != nil {
				return err
			}
			s.Status = model.SiphonStatusTeacherApproved
		}

		_, err = tx.Exec(ctx,
			`UPDATE siphon_requests SET status = $2 WHERE id = $1`, siphonID, string(s.Status))
		if err != nil {
			return fmt.Errorf("update siphon status: %w", err)
		}

		if err := deleteFreeze(ctx, tx, s.ClassroomID, s.TargetUser, s.ID); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		res = s
		return nil
	})
	return res, err
}

func transferSiphonAmount(ctx context.Context, tx pgx.Tx, s *model.SiphonRequest, decidedBy int64) error {
	first, second := s.TargetUser, s.Initiator
	if second < first {
		first, second = second, first
	}
	for _, id := range []int64{first, second} {
		var dummy int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM classroom_members WHERE classroom_id = $1 AND user_id = $2 FOR UPDATE`,
			s.ClassroomID, id,
		).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock member %d: %w", id, err)
		}
	}

	var targetBalance int64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM classroom_members WHERE classroom_id = $1 AND user_id = $2`,
		s.ClassroomID, s.TargetUser,
	).Scan(&targetBalance)
	if err != nil {
		return fmt.Errorf("select target balance: %w", err)
	}
	if targetBalance < s.Amount {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`UPDATE classroom_members SET balance = balance - $3
		 WHERE classroom_id = $1 AND user_id = $2`,
		s.ClassroomID, s.TargetUser, s.Amount,
	)
	if err != nil {
		return fmt.Errorf("debit target: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE classroom_members SET balance = balance + $3
		 WHERE classroom_id = $1 AND user_id = $2`,
		s.ClassroomID, s.Initiator, s.Amount,
	)
	if err != nil {
		return fmt.Errorf("credit initiator: %w", err)
	}

	desc := fmt.Sprintf("siphon %s: %s", s.ID, s.Reason)
	for _, rec := range []struct {
		userID int64
		amount int64
	}{
		{s.TargetUser, -s.Amount},
		{s.Initiator, s.Amount},
	} {
		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, classroom_id, user_id, amount, description, assigned_by)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), s.ClassroomID, rec.userID, rec.amount, desc, decidedBy,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}
	return nil
}

// ExpireDueSiphons переводит просроченные запросы в expired и снимает все
// просроченные заморозки. Заморозки чистятся независимо от наличия записи о
// сифоне, поэтому внешняя TTL-очистка запросов не может оставить счёт
// замороженным навсегда. Идемпотентно: затрагиваются только просроченные строки.
func (r *PostgresRepository) ExpireDueSiphons(ctx context.Context, now time.Time) ([]model.SiphonRequest, error) {
	var expired []model.SiphonRequest
	err := r.withRetry(ctx, func() error {
		expired = expired[:0]

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`UPDATE siphon_requests SET status = $2
			 WHERE status IN ($3, $4) AND expires_at <= $1
			 RETURNING `+siphonColumns,
			now, string(model.SiphonStatusExpired),
			string(model.SiphonStatusPending), string(model.SiphonStatusGroupApproved),
		)
		if err != nil {
			return fmt.Errorf("expire siphons: %w", err)
		}
		for rows.Next() {
			s, err := scanSiphon(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, *s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM account_freezes WHERE expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("clear due freezes: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	return expired, err
}

// IsFrozen сообщает, действует ли на участника класса заморозка трат.
func (r *PostgresRepository) IsFrozen(ctx context.Context, classroomID, userID int64, now time.Time) (bool, error) {
	var frozen bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM account_freezes
		   WHERE classroom_id = $1 AND user_id = $2 AND expires_at > $3
		 )`,
		classroomID, userID, now,
	).Scan(&frozen)
	if err != nil {
		return false, fmt.Errorf("check freeze: %w", err)
	}
	return frozen, nil
}
