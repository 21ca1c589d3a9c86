// Package service реализует бизнес-логику классной экономики Prizeversity.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prizeversity/prizeversity/internal/economy"
	"github.com/prizeversity/prizeversity/internal/model"
	"github.com/prizeversity/prizeversity/internal/repository"
	"github.com/prizeversity/prizeversity/internal/reward"
)

// ErrValidation оборачивает ошибки некорректного ввода, отклонённые до любых изменений.
var (
	ErrValidation = errors.New("validation error")
	// ErrPolicy возвращается, когда у актора нет прав на операцию.
	ErrPolicy = errors.New("operation is not permitted for this actor")
	// ErrNotEligible возвращается при голосе пользователя без права голоса.
	ErrNotEligible = errors.New("user is not an eligible voter")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	CreateClassroom(ctx context.Context, c *model.Classroom) (int64, error)
	GetClassroom(ctx context.Context, id int64) (*model.Classroom, error)
	GetClassroomByJoinCode(ctx context.Context, code string) (*model.Classroom, error)
	AddClassroomMember(ctx context.Context, classroomID, userID int64, role model.Role) error
	GetClassroomMember(ctx context.Context, classroomID, userID int64) (*model.ClassroomBalance, error)
	BanStudent(ctx context.Context, classroomID, userID int64, reason string) error
	GetBannedSet(ctx context.Context, classroomID int64) (map[int64]struct{}, error)

	ApplyAdjustment(ctx context.Context, rec repository.AdjustmentRecord) (int64, error)
	ListTransactions(ctx context.Context, classroomID int64, userID *int64, limit int) ([]model.Transaction, error)
	CreatePendingAdjustment(ctx context.Context, p *model.PendingAdjustment) error
	GetPendingAdjustment(ctx context.Context, id string) (*model.PendingAdjustment, error)
	ResolvePendingAdjustment(ctx context.Context, id string, status model.PendingStatus) error

	CreateGroupSet(ctx context.Context, gs *model.GroupSet) (int64, error)
	CreateGroup(ctx context.Context, g *model.Group) (int64, error)
	GetGroup(ctx context.Context, id int64) (*model.Group, error)
	GetGroupMembers(ctx context.Context, groupID int64) ([]model.GroupMember, error)
	JoinGroup(ctx context.Context, groupID, userID int64) error
	ApproveGroupMember(ctx context.Context, groupID, userID int64) (float64, error)
	RemoveGroupMember(ctx context.Context, groupID, userID int64) (float64, error)
	ApprovedGroupFor(ctx context.Context, classroomID, userID int64) (*model.Group, error)

	CreateSiphon(ctx context.Context, s *model.SiphonRequest) error
	GetSiphon(ctx context.Context, id string) (*model.SiphonRequest, error)
	GetSiphonVotes(ctx context.Context, siphonID string) ([]model.SiphonVote, error)
	AddSiphonVote(ctx context.Context, siphonID string, userID int64, vote model.Vote) (model.SiphonStatus, economy.TallyResult, error)
	DecideSiphon(ctx context.Context, siphonID string, approve bool, decidedBy int64) (*model.SiphonRequest, error)
	ExpireDueSiphons(ctx context.Context, now time.Time) ([]model.SiphonRequest, error)
	IsFrozen(ctx context.Context, classroomID, userID int64, now time.Time) (bool, error)

	CreateBazaarItem(ctx context.Context, item *model.BazaarItem) error
	GetBazaarItems(ctx context.Context, classroomID int64, ids []string) ([]model.BazaarItem, error)
	CreateMysteryBox(ctx context.Context, item *model.BazaarItem, tmpl *model.MysteryBoxTemplate) error
	GetBoxTemplate(ctx context.Context, itemID string) (*model.MysteryBoxTemplate, error)
	PurchaseItem(ctx context.Context, classroomID, userID int64, itemID string) (*model.BazaarItem, int64, error)
	OpenBox(ctx context.Context, classroomID, userID int64, boxItemID string, roll func(tmpl model.MysteryBoxTemplate, recent []model.Rarity) (reward.Result, error)) (*model.InventoryItem, error)
}

// EventPublisher рассылает события реального времени подписчикам класса.
type EventPublisher interface {
	Publish(classroomID int64, event string, payload any)
}

// BalanceUpdatePayload — полезная нагрузка события balance_update.
type BalanceUpdatePayload struct {
	StudentID   int64 `json:"studentId"`
	NewBalance  int64 `json:"newBalance"`
	ClassroomID int64 `json:"classroomId"`
}

// Service содержит бизнес-логику классной экономики.
type Service struct {
	repo          Repository
	events        EventPublisher
	logger        *zap.Logger
	sweepInterval time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewService создаёт новый сервис поверх репозитория и шины событий.
func NewService(repo Repository, events EventPublisher, logger *zap.Logger, sweepInterval time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		events:        events,
		logger:        logger,
		sweepInterval: sweepInterval,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) publish(classroomID int64, event string, payload any) {
	if s.events != nil {
		s.events.Publish(classroomID, event, payload)
	}
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateClassroom создаёт класс с указанными настройками экономики и
// сгенерированным кодом присоединения.
func (s *Service) CreateClassroom(ctx context.Context, teacherID int64, name string, policy model.TAPolicy, siphonWindow time.Duration, groupIncrement float64) (*model.Classroom, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: classroom name must not be empty", ErrValidation)
	}
	if policy != model.TAPolicyFull && policy != model.TAPolicyApproval {
		return nil, fmt.Errorf("%w: unknown ta policy %q", ErrValidation, policy)
	}
	if siphonWindow <= 0 {
		siphonWindow = 72 * time.Hour
	}

	c := &model.Classroom{
		Name:                     name,
		JoinCode:                 s.generateJoinCode(),
		TeacherID:                teacherID,
		TAPolicy:                 policy,
		SiphonWindow:             siphonWindow,
		GroupMultiplierIncrement: groupIncrement,
	}

	id, err := s.repo.CreateClassroom(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// generateJoinCode выдаёт цифровой код с контрольной цифрой по Луну.
func (s *Service) generateJoinCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	digits := make([]byte, 0, 8)
	for i := 0; i < 7; i++ {
		digits = append(digits, byte('0'+s.rng.Intn(10)))
	}

	// Контрольная цифра: дополняем сумму Луна до кратной десяти.
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
	check := (10 - sum%10) % 10

	return string(digits) + string(byte('0'+check))
}

// JoinClassroom присоединяет пользователя к классу по коду.
func (s *Service) JoinClassroom(ctx context.Context, userID int64, code string) (*model.Classroom, error) {
	c, err := s.repo.GetClassroomByJoinCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AddClassroomMember(ctx, c.ID, userID, model.RoleStudent); err != nil {
		return nil, err
	}
	return c, nil
}

// GetBalance возвращает счёт участника класса.
func (s *Service) GetBalance(ctx context.Context, classroomID, userID int64) (*model.ClassroomBalance, error) {
	return s.repo.GetClassroomMember(ctx, classroomID, userID)
}

// ListTransactions возвращает журнал операций класса.
func (s *Service) ListTransactions(ctx context.Context, classroomID int64, userID *int64, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListTransactions(ctx, classroomID, userID, limit)
}

// BanStudent блокирует ученика в классе. Доступно только преподавателю.
func (s *Service) BanStudent(ctx context.Context, actorID, classroomID, userID int64, reason string) error {
	if err := s.requireTeacher(ctx, actorID, classroomID); err != nil {
		return err
	}
	return s.repo.BanStudent(ctx, classroomID, userID, reason)
}

func (s *Service) requireTeacher(ctx context.Context, actorID, classroomID int64) error {
	c, err := s.repo.GetClassroom(ctx, classroomID)
	if err != nil {
		return err
	}
	if c.TeacherID != actorID {
		return fmt.Errorf("%w: only the classroom teacher may do this", ErrPolicy)
	}
	return nil
}
