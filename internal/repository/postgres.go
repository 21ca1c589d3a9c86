// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/prizeversity/prizeversity/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotFound возвращается, если запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBanned возвращается при попытке заблокированного ученика войти в класс.
	ErrBanned = errors.New("user is banned from classroom")
	// ErrAccountFrozen возвращается при попытке трат во время активного сифона.
	ErrAccountFrozen = errors.New("account is frozen pending siphon resolution")
	// ErrAlreadyVoted возвращается при повторном голосе по одному сифону.
	ErrAlreadyVoted = errors.New("user already voted on this siphon")
	// ErrActiveSiphonExists возвращается, если по цели уже идёт активный сифон.
	ErrActiveSiphonExists = errors.New("active siphon already exists for this target")
	// ErrSiphonNotPending возвращается при голосовании по завершённому сифону.
	ErrSiphonNotPending = errors.New("siphon is not pending")
	// ErrVoterNotEligible возвращается, если на момент записи голоса пользователь
	// не входит в круг голосующих.
	ErrVoterNotEligible = errors.New("voter is not eligible for this siphon")
	// ErrSiphonNotDecidable возвращается, если сифон не ждёт решения преподавателя.
	ErrSiphonNotDecidable = errors.New("siphon is not awaiting teacher decision")
	// ErrMembershipConflict возвращается при нарушении инвариантов членства в группах.
	ErrMembershipConflict = errors.New("membership conflict in group set")
	// ErrGroupFull возвращается при вступлении в заполненную группу.
	ErrGroupFull = errors.New("group is full")
	// ErrBoxNotOwned возвращается при открытии не купленного бокса.
	ErrBoxNotOwned = errors.New("mystery box is not owned by student")
	// ErrBoxDepleted возвращается, когда лимит открытий бокса исчерпан.
	ErrBoxDepleted = errors.New("mystery box opens depleted")
	// ErrPendingResolved возвращается при повторном решении по отложенному пакету.
	ErrPendingResolved = errors.New("pending adjustment already resolved")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks; переподключением
		// pgxpool занимается сам.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateClassroom создаёт класс и записывает преподавателя его участником.
func (r *PostgresRepository) CreateClassroom(ctx context.Context, c *model.Classroom) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO classrooms (name, join_code, teacher_id, ta_policy, siphon_window_seconds, group_multiplier_increment)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		c.Name, c.JoinCode, c.TeacherID, string(c.TAPolicy), int64(c.SiphonWindow.Seconds()), c.GroupMultiplierIncrement,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert classroom: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO classroom_members (classroom_id, user_id, role) VALUES ($1, $2, $3)`,
		id, c.TeacherID, string(model.RoleTeacher),
	)
	if err != nil {
		return 0, fmt.Errorf("insert teacher member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

func scanClassroom(row pgx.Row) (*model.Classroom, error) {
	var (
		c             model.Classroom
		policy        string
		windowSeconds int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.JoinCode, &c.TeacherID, &policy, &windowSeconds, &c.GroupMultiplierIncrement, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan classroom: %w", err)
	}
	c.TAPolicy = model.TAPolicy(policy)
	c.SiphonWindow = time.Duration(windowSeconds) * time.Second
	return &c, nil
}

// GetClassroom возвращает класс по идентификатору.
func (r *PostgresRepository) GetClassroom(ctx context.Context, id int64) (*model.Classroom, error) {
	return scanClassroom(r.pool.QueryRow(ctx,
		`SELECT id, name, join_code, teacher_id, ta_policy, siphon_window_seconds, group_multiplier_increment, created_at
		 FROM classrooms WHERE id = $1`, id))
}

// GetClassroomByJoinCode возвращает класс по коду присоединения.
func (r *PostgresRepository) GetClassroomByJoinCode(ctx context.Context, code string) (*model.Classroom, error) {
	return scanClassroom(r.pool.QueryRow(ctx,
		`SELECT id, name, join_code, teacher_id, ta_policy, siphon_window_seconds, group_multiplier_increment, created_at
		 FROM classrooms WHERE join_code = $1`, code))
}

// AddClassroomMember записывает пользователя участником класса. Повторное
// вступление — no-op, заблокированный пользователь получает отказ.
func (r *PostgresRepository) AddClassroomMember(ctx context.Context, classroomID, userID int64, role model.Role) error {
	var banned bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM classroom_bans WHERE classroom_id = $1 AND user_id = $2)`,
		classroomID, userID,
	).Scan(&banned)
	if err != nil {
		return fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return ErrBanned
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO classroom_members (classroom_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (classroom_id, user_id) DO NOTHING`,
		classroomID, userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// GetClassroomMember возвращает счёт участника класса.
func (r *PostgresRepository) GetClassroomMember(ctx context.Context, classroomID, userID int64) (*model.ClassroomBalance, error) {
	var (
		m    model.ClassroomBalance
		role string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT classroom_id, user_id, role, balance, personal_multiplier, luck, xp, level, joined_at
		 FROM classroom_members WHERE classroom_id = $1 AND user_id = $2`,
		classroomID, userID,
	).Scan(&m.ClassroomID, &m.UserID, &role, &m.Balance, &m.PersonalMultiplier, &m.Luck, &m.XP, &m.Level, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	m.Role = model.Role(role)
	return &m, nil
}

// BanStudent добавляет запись о блокировке ученика в классе.
func (r *PostgresRepository) BanStudent(ctx context.Context, classroomID, userID int64, reason string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO classroom_bans (classroom_id, user_id, reason)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (classroom_id, user_id) DO NOTHING`,
		classroomID, userID, reason,
	)
	if err != nil {
		return fmt.Errorf("insert ban: %w", err)
	}
	return nil
}

// GetBannedSet возвращает множество заблокированных пользователей класса.
func (r *PostgresRepository) GetBannedSet(ctx context.Context, classroomID int64) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM classroom_bans WHERE classroom_id = $1`, classroomID)
	if err != nil {
		return nil, fmt.Errorf("select bans: %w", err)
	}
	defer rows.Close()

	banned := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		banned[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return banned, nil
}

// AdjustmentRecord — итог применения множителей к одной цели, готовый к записи
// в журнал.
type AdjustmentRecord struct {
	ClassroomID     int64
	UserID          int64
	Amount          int64
	Description     string
	AssignedBy      *int64
	AppliedPersonal float64
	AppliedGroup    float64
}

// ApplyAdjustment изменяет баланс участника и записывает транзакцию в журнал.
// Строка участника блокируется для сериализации конкурентных изменений;
// положительные начисления дают XP в размере итоговой суммы. Штраф применяется
// по номиналу без проверки остатка: баланс может уйти в минус.
func (r *PostgresRepository) ApplyAdjustment(ctx context.Context, rec AdjustmentRecord) (int64, error) {
	var newBalance int64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance int64
		err = tx.QueryRow(ctx,
			`SELECT balance FROM classroom_members
			 WHERE classroom_id = $1 AND user_id = $2 FOR UPDATE`,
			rec.ClassroomID, rec.UserID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock member for update: %w", err)
		}

		newBalance = balance + rec.Amount

		if rec.Amount > 0 {
			_, err = tx.Exec(ctx,
				`UPDATE classroom_members
				 SET balance = $3, xp = xp + $4, level = (xp + $4) / 1000 + 1
				 WHERE classroom_id = $1 AND user_id = $2`,
				rec.ClassroomID, rec.UserID, newBalance, rec.Amount,
			)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE classroom_members SET balance = $3
				 WHERE classroom_id = $1 AND user_id = $2`,
				rec.ClassroomID, rec.UserID, newBalance,
			)
		}
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, classroom_id, user_id, amount, description, assigned_by, applied_personal_multiplier, applied_group_multiplier)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.NewString(), rec.ClassroomID, rec.UserID, rec.Amount, rec.Description, rec.AssignedBy, rec.AppliedPersonal, rec.AppliedGroup,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	return newBalance, err
}

// ListTransactions возвращает журнал класса, при userID != nil — одного участника.
func (r *PostgresRepository) ListTransactions(ctx context.Context, classroomID int64, userID *int64, limit int) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, classroom_id, user_id, amount, description, assigned_by, applied_personal_multiplier, applied_group_multiplier, created_at
		 FROM transactions
		 WHERE classroom_id = $1 AND ($2::bigint IS NULL OR user_id = $2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		classroomID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.ClassroomID, &t.UserID, &t.Amount, &t.Description, &t.AssignedBy,
			&t.AppliedPersonalMultiplier, &t.AppliedGroupMultiplier, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreatePendingAdjustment ставит пакет корректировок в очередь на решение преподавателя.
func (r *PostgresRepository) CreatePendingAdjustment(ctx context.Context, p *model.PendingAdjustment) error {
	payload, err := json.Marshal(p.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO pending_adjustments (id, classroom_id, requested_by, description, apply_personal, apply_group, payload, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ClassroomID, p.RequestedBy, p.Description, p.ApplyPersonal, p.ApplyGroup, payload, string(model.PendingStatusPending),
	)
	if err != nil {
		return fmt.Errorf("insert pending adjustment: %w", err)
	}
	return nil
}

// GetPendingAdjustment возвращает отложенный пакет по идентификатору.
func (r *PostgresRepository) GetPendingAdjustment(ctx context.Context, id string) (*model.PendingAdjustment, error) {
	var (
		p       model.PendingAdjustment
		status  string
		payload []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, classroom_id, requested_by, description, apply_personal, apply_group, payload, status, created_at
		 FROM pending_adjustments WHERE id = $1`, id,
	).Scan(&p.ID, &p.ClassroomID, &p.RequestedBy, &p.Description, &p.ApplyPersonal, &p.ApplyGroup, &payload, &status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pending adjustment: %w", err)
	}

	if err := json.Unmarshal(payload, &p.Targets); err != nil {
		return nil, fmt.Errorf("unmarshal targets: %w", err)
	}
	p.Status = model.PendingStatus(status)
	return &p, nil
}

// ResolvePendingAdjustment переводит отложенный пакет в конечное состояние.
// Пакет, по которому решение уже принято, повторно не разрешается.
func (r *PostgresRepository) ResolvePendingAdjustment(ctx context.Context, id string, status model.PendingStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM pending_adjustments WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock pending adjustment: %w", err)
	}

	if model.PendingStatus(current) != model.PendingStatusPending {
		return ErrPendingResolved
	}

	_, err = tx.Exec(ctx,
		`UPDATE pending_adjustments SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update pending adjustment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
