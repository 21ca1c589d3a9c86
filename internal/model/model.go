// Package model содержит доменные сущности классной экономики Prizeversity.
package model

import "time"

// User представляет зарегистрированного пользователя системы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Role описывает роль участника внутри класса.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleTA      Role = "ta"
	RoleStudent Role = "student"
)

// TAPolicy определяет, применяются ли корректировки баланса от ассистента сразу
// или требуют подтверждения преподавателя.
type TAPolicy string

const (
	TAPolicyFull     TAPolicy = "full"
	TAPolicyApproval TAPolicy = "approval"
)

// Classroom описывает класс и его экономические настройки.
type Classroom struct {
	ID                       int64
	Name                     string
	JoinCode                 string
	TeacherID                int64
	TAPolicy                 TAPolicy
	SiphonWindow             time.Duration
	GroupMultiplierIncrement float64
	CreatedAt                time.Time
}

// ClassroomBalance содержит счёт участника внутри класса: роль, битсы,
// персональный множитель и прогресс.
type ClassroomBalance struct {
	ClassroomID        int64
	UserID             int64
	Role               Role
	Balance            int64
	PersonalMultiplier float64
	Luck               float64
	XP                 int64
	Level              int
	JoinedAt           time.Time
}

// BanRecord описывает факт блокировки ученика в классе.
type BanRecord struct {
	ClassroomID int64
	UserID      int64
	BannedAt    time.Time
	Reason      string
}

// GroupSet представляет именованный набор групп внутри класса.
type GroupSet struct {
	ID                       int64
	ClassroomID              int64
	Name                     string
	GroupMultiplierIncrement float64
	MaxMembers               *int
}

// Group принадлежит ровно одному GroupSet.
type Group struct {
	ID               int64
	GroupSetID       int64
	ClassroomID      int64
	Name             string
	GroupMultiplier  float64
	MultiplierManual bool
	MaxMembers       *int
}

// MemberStatus описывает состояние заявки участника группы.
type MemberStatus string

const (
	MemberStatusPending  MemberStatus = "pending"
	MemberStatusApproved MemberStatus = "approved"
)

// GroupMember — членство пользователя в группе. На API-границе участник
// всегда представлен идентификатором, без вложенных документов.
type GroupMember struct {
	GroupID  int64
	UserID   int64
	Status   MemberStatus
	JoinDate time.Time
}

// SiphonStatus описывает состояние запроса на перевод битсов от участника группы.
type SiphonStatus string

const (
	SiphonStatusPending         SiphonStatus = "pending"
	SiphonStatusGroupApproved   SiphonStatus = "group_approved"
	SiphonStatusTeacherApproved SiphonStatus = "teacher_approved"
	SiphonStatusTeacherRejected SiphonStatus = "teacher_rejected"
	// SiphonStatusRejected выставляется, когда большинство «за» стало
	// математически недостижимо, без участия преподавателя.
	SiphonStatusRejected SiphonStatus = "rejected"
	SiphonStatusExpired  SiphonStatus = "expired"
)

// Vote — голос участника по запросу сифона.
type Vote string

const (
	VoteYes Vote = "yes"
	VoteNo  Vote = "no"
)

// SiphonRequest описывает запрос на принудительный перевод битсов от участника
// группы, проходящий через голосование и решение преподавателя.
type SiphonRequest struct {
	ID          string
	GroupID     int64
	ClassroomID int64
	TargetUser  int64
	Initiator   int64
	Amount      int64
	Reason      string
	Proof       string
	Status      SiphonStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// SiphonVote — зафиксированный голос по запросу сифона, не более одного на
// пользователя.
type SiphonVote struct {
	SiphonID string
	UserID   int64
	Vote     Vote
	VotedAt  time.Time
}

// AccountFreeze — заморозка трат участника класса на время рассмотрения сифона.
// Хранится отдельно от запроса и имеет собственный срок действия, поэтому
// разморозка не зависит от времени жизни записи о сифоне.
type AccountFreeze struct {
	ClassroomID int64
	UserID      int64
	SiphonID    string
	ExpiresAt   time.Time
}

// Rarity — редкость предмета базара.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// RarityRank возвращает порядковый номер редкости для сравнения тиров.
// Неизвестная редкость считается ниже common.
func RarityRank(r Rarity) int {
	switch r {
	case RarityCommon:
		return 1
	case RarityUncommon:
		return 2
	case RarityRare:
		return 3
	case RarityEpic:
		return 4
	case RarityLegendary:
		return 5
	}
	return 0
}

// ItemCategory — категория предмета базара.
type ItemCategory string

const (
	ItemCategoryGeneric    ItemCategory = "generic"
	ItemCategoryMysteryBox ItemCategory = "mystery_box"
)

// BazaarItem — предмет, доступный к покупке в классе.
type BazaarItem struct {
	ID          string
	ClassroomID int64
	Name        string
	Category    ItemCategory
	Price       int64
	Rarity      Rarity
}

// PoolEntry — элемент пула наград мистери-бокса с базовым шансом выпадения.
type PoolEntry struct {
	ItemID         string
	Name           string
	Category       ItemCategory
	Rarity         Rarity
	BaseDropChance float64
}

// MysteryBoxTemplate — настройки мистери-бокса поверх предмета базара.
type MysteryBoxTemplate struct {
	ItemID             string
	ClassroomID        int64
	Name               string
	LuckMultiplier     float64
	PityEnabled        bool
	PityThreshold      int
	PityMinimumRarity  Rarity
	MaxOpensPerStudent *int
	Pool               []PoolEntry
}

// OwnedBox — экземпляр мистери-бокса у ученика: счётчик открытий и кольцо
// последних редкостей размером в pityThreshold.
type OwnedBox struct {
	UserID      int64
	BoxItemID   string
	ClassroomID int64
	OpensUsed   int
	RecentOpens []Rarity
}

// InventoryItem — предмет в инвентаре ученика, склонированный из пула награды.
type InventoryItem struct {
	ID           string
	UserID       int64
	ClassroomID  int64
	SourceItemID string
	Name         string
	Rarity       Rarity
	AcquiredAt   time.Time
}

// Transaction — неизменяемая запись журнала изменений баланса. Для кредитов
// amount хранит итоговую сумму после множителей.
type Transaction struct {
	ID                        string
	ClassroomID               int64
	UserID                    int64
	Amount                    int64
	Description               string
	AssignedBy                *int64
	AppliedPersonalMultiplier float64
	AppliedGroupMultiplier    float64
	CreatedAt                 time.Time
}

// AdjustmentTarget — одна цель пакетной корректировки баланса.
type AdjustmentTarget struct {
	StudentID int64 `json:"studentId"`
	Amount    int64 `json:"amount"`
}

// PendingStatus описывает состояние отложенного пакета корректировок.
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusApplied   PendingStatus = "applied"
	PendingStatusDiscarded PendingStatus = "discarded"
)

// PendingAdjustment — пакет корректировок от ассистента, ожидающий решения
// преподавателя.
type PendingAdjustment struct {
	ID            string
	ClassroomID   int64
	RequestedBy   int64
	Description   string
	ApplyPersonal bool
	ApplyGroup    bool
	Targets       []AdjustmentTarget
	Status        PendingStatus
	CreatedAt     time.Time
}
