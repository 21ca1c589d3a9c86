// Package handler содержит HTTP-обработчики API сервиса Prizeversity.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/prizeversity/prizeversity/internal/economy"
	"github.com/prizeversity/prizeversity/internal/middleware"
	"github.com/prizeversity/prizeversity/internal/model"
	"github.com/prizeversity/prizeversity/internal/repository"
	"github.com/prizeversity/prizeversity/internal/service"
	"github.com/prizeversity/prizeversity/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)

	CreateClassroom(ctx context.Context, teacherID int64, name string, policy model.TAPolicy, siphonWindow time.Duration, groupIncrement float64) (*model.Classroom, error)
	JoinClassroom(ctx context.Context, userID int64, code string) (*model.Classroom, error)
	GetBalance(ctx context.Context, classroomID, userID int64) (*model.ClassroomBalance, error)
	ListTransactions(ctx context.Context, classroomID int64, userID *int64, limit int) ([]model.Transaction, error)
	BanStudent(ctx context.Context, actorID, classroomID, userID int64, reason string) error

	BulkAdjust(ctx context.Context, actorID, classroomID int64, targets []model.AdjustmentTarget, description string, applyPersonal, applyGroup bool) (*service.BulkResult, error)
	ReviewPendingAdjustment(ctx context.Context, actorID int64, pendingID string, approve bool) (*service.BulkResult, error)

	CreateGroupSet(ctx context.Context, actorID int64, gs *model.GroupSet) (int64, error)
	CreateGroup(ctx context.Context, actorID, classroomID int64, g *model.Group) (int64, error)
	JoinGroup(ctx context.Context, userID, groupID int64) error
	ApproveGroupMember(ctx context.Context, actorID, groupID, userID int64) error
	LeaveGroup(ctx context.Context, actorID, groupID, userID int64) error

	CreateSiphon(ctx context.Context, initiatorID, groupID, targetID, amount int64, reason, proof string) (*model.SiphonRequest, error)
	VoteSiphon(ctx context.Context, voterID int64, siphonID string, vote model.Vote) (*service.SiphonVoteResult, error)
	TeacherApproveSiphon(ctx context.Context, actorID int64, siphonID string) (*model.SiphonRequest, error)
	TeacherRejectSiphon(ctx context.Context, actorID int64, siphonID string) (*model.SiphonRequest, error)

	CreateBazaarItem(ctx context.Context, actorID int64, item *model.BazaarItem) error
	CreateMysteryBox(ctx context.Context, actorID, classroomID int64, in service.BoxInput) (*model.BazaarItem, error)
	PurchaseItem(ctx context.Context, userID, classroomID int64, itemID string) (*model.BazaarItem, error)
	OpenBox(ctx context.Context, userID, classroomID int64, boxItemID string) (*model.InventoryItem, error)
}

// Subscriber подписывает websocket-клиента на события класса.
type Subscriber interface {
	Subscribe(w http.ResponseWriter, r *http.Request, classroomID int64)
}

// Handler реализует HTTP-обработчики API сервиса Prizeversity.
type Handler struct {
	service        Service
	hub            Subscriber
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, hub Subscriber, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		hub:            hub,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит ошибку бизнес-логики в HTTP-статус. Валидационные
// сообщения отдаются дословно.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrPolicy),
		errors.Is(err, repository.ErrBanned),
		errors.Is(err, repository.ErrAccountFrozen),
		errors.Is(err, repository.ErrBoxDepleted),
		errors.Is(err, repository.ErrBoxNotOwned):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrNotEligible),
		errors.Is(err, repository.ErrVoterNotEligible),
		errors.Is(err, repository.ErrAlreadyVoted),
		errors.Is(err, repository.ErrActiveSiphonExists),
		errors.Is(err, repository.ErrSiphonNotPending),
		errors.Is(err, repository.ErrMembershipConflict),
		errors.Is(err, repository.ErrGroupFull),
		errors.Is(err, repository.ErrPendingResolved),
		errors.Is(err, repository.ErrUserExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrSiphonNotDecidable),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type createClassroomRequest struct {
	Name                     string  `json:"name"`
	TAPolicy                 string  `json:"taPolicy"`
	SiphonWindowHours        int     `json:"siphonWindowHours"`
	GroupMultiplierIncrement float64 `json:"groupMultiplierIncrement"`
}

// CreateClassroom создаёт класс от имени текущего пользователя.
func (h *Handler) CreateClassroom(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createClassroomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.TAPolicy == "" {
		req.TAPolicy = string(model.TAPolicyFull)
	}

	c, err := h.service.CreateClassroom(r.Context(), userID, req.Name, model.TAPolicy(req.TAPolicy),
		time.Duration(req.SiphonWindowHours)*time.Hour, req.GroupMultiplierIncrement)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"classroomId": c.ID,
		"joinCode":    c.JoinCode,
	})
}

type joinClassroomRequest struct {
	Code string `json:"code"`
}

// JoinClassroom присоединяет текущего пользователя к классу по коду.
func (h *Handler) JoinClassroom(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req joinClassroomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidJoinCode(req.Code) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	c, err := h.service.JoinClassroom(r.Context(), userID, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"classroomId": c.ID, "name": c.Name})
}

type balanceResponse struct {
	Balance            int64   `json:"balance"`
	PersonalMultiplier float64 `json:"personalMultiplier"`
	Luck               float64 `json:"luck"`
	XP                 int64   `json:"xp"`
	Level              int     `json:"level"`
}

// GetBalance возвращает счёт текущего пользователя в классе.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}

	b, err := h.service.GetBalance(r.Context(), classroomID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{
		Balance:            b.Balance,
		PersonalMultiplier: b.PersonalMultiplier,
		Luck:               b.Luck,
		XP:                 b.XP,
		Level:              b.Level,
	})
}

// GetTransactions возвращает журнал операций класса.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}

	var userFilter *int64
	if v := r.URL.Query().Get("studentId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		userFilter = &id
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txs, err := h.service.ListTransactions(r.Context(), classroomID, userFilter, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

type banRequest struct {
	UserID int64  `json:"userId"`
	Reason string `json:"reason"`
}

// BanStudent блокирует ученика в классе.
func (h *Handler) BanStudent(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.BanStudent(r.Context(), userID, classroomID, req.UserID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type adjustmentsRequest struct {
	Updates                  []model.AdjustmentTarget `json:"updates"`
	Description              string                   `json:"description"`
	ApplyGroupMultipliers    bool                     `json:"applyGroupMultipliers"`
	ApplyPersonalMultipliers bool                     `json:"applyPersonalMultipliers"`
}

// Adjustments применяет пакет корректировок балансов. Применённый пакет — 200,
// поставленный в очередь на решение преподавателя — 202.
func (h *Handler) Adjustments(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}

	var req adjustmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.BulkAdjust(r.Context(), userID, classroomID, req.Updates, req.Description,
		req.ApplyPersonalMultipliers, req.ApplyGroupMultipliers)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if res.Pending() {
		h.writeJSON(w, http.StatusAccepted, map[string]any{
			"pendingApproval": true,
			"pendingId":       res.PendingID,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// ReviewPending применяет или отклоняет отложенный пакет корректировок.
func (h *Handler) ReviewPending(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		pendingID := chi.URLParam(r, "pendingID")

		res, err := h.service.ReviewPendingAdjustment(r.Context(), userID, pendingID, approve)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, res)
	}
}

type createGroupSetRequest struct {
	Name                     string  `json:"name"`
	GroupMultiplierIncrement float64 `json:"groupMultiplierIncrement"`
	MaxMembers               *int    `json:"maxMembers,omitempty"`
}

// CreateGroupSet создаёт набор групп.
func (h *Handler) CreateGroupSet(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}

	var req createGroupSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateGroupSet(r.Context(), userID, &model.GroupSet{
		ClassroomID:              classroomID,
		Name:                     req.Name,
		GroupMultiplierIncrement: req.GroupMultiplierIncrement,
		MaxMembers:               req.MaxMembers,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"groupSetId": id})
}

type createGroupRequest struct {
	GroupSetID int64  `json:"groupSetId"`
	Name       string `json:"name"`
	MaxMembers *int   `json:"maxMembers,omitempty"`
}

// CreateGroup создаёт группу в наборе.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateGroup(r.Context(), userID, classroomID, &model.Group{
		GroupSetID: req.GroupSetID,
		Name:       req.Name,
		MaxMembers: req.MaxMembers,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"groupId": id})
}

// JoinGroup подаёт заявку текущего пользователя на вступление в группу.
func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}

	if err := h.service.JoinGroup(r.Context(), userID, groupID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ApproveGroupMember одобряет заявку участника группы.
func (h *Handler) ApproveGroupMember(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	memberID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := h.service.ApproveGroupMember(r.Context(), actorID, groupID, memberID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LeaveGroup убирает участника из группы.
func (h *Handler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	memberID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := h.service.LeaveGroup(r.Context(), actorID, groupID, memberID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createSiphonRequest struct {
	TargetUserID int64  `json:"targetUserId"`
	Amount       int64  `json:"amount"`
	Reason       string `json:"reason"`
	Proof        string `json:"proof,omitempty"`
}

// CreateSiphon создаёт запрос сифона от текущего пользователя.
func (h *Handler) CreateSiphon(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}

	var req createSiphonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s, err := h.service.CreateSiphon(r.Context(), userID, groupID, req.TargetUserID, req.Amount, req.Reason, req.Proof)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"siphonId":  s.ID,
		"expiresAt": s.ExpiresAt.Format(time.RFC3339),
	})
}

type voteRequest struct {
	Vote string `json:"vote"`
}

type voteResponse struct {
	Status string              `json:"status"`
	Tally  economy.TallyResult `json:"tally"`
}

// VoteSiphon учитывает голос текущего пользователя по сифону.
func (h *Handler) VoteSiphon(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	siphonID := chi.URLParam(r, "siphonID")

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.VoteSiphon(r.Context(), userID, siphonID, model.Vote(req.Vote))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, voteResponse{Status: string(res.Status), Tally: res.Tally})
}

// DecideSiphon одобряет или отклоняет сифон решением преподавателя.
func (h *Handler) DecideSiphon(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		siphonID := chi.URLParam(r, "siphonID")

		var (
			s   *model.SiphonRequest
			err error
		)
		if approve {
			s, err = h.service.TeacherApproveSiphon(r.Context(), userID, siphonID)
		} else {
			s, err = h.service.TeacherRejectSiphon(r.Context(), userID, siphonID)
		}
		if err != nil {
			h.writeError(w, err)
			return
		}

		h.writeJSON(w, http.StatusOK, map[string]any{"status": string(s.Status)})
	}
}

type createItemRequest struct {
	Name   string `json:"name"`
	Price  int64  `json:"price"`
	Rarity string `json:"rarity"`
}

// CreateBazaarItem добавляет обычный предмет в базар.
func (h *Handler) CreateBazaarItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item := &model.BazaarItem{
		ClassroomID: classroomID,
		Name:        req.Name,
		Price:       req.Price,
		Rarity:      model.Rarity(req.Rarity),
	}
	if err := h.service.CreateBazaarItem(r.Context(), userID, item); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"itemId": item.ID})
}

// CreateMysteryBox создаёт мистери-бокс в базаре класса.
func (h *Handler) CreateMysteryBox(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}

	var req service.BoxInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.CreateMysteryBox(r.Context(), userID, classroomID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"itemId": item.ID})
}

// PurchaseItem покупает предмет базара.
func (h *Handler) PurchaseItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	item, err := h.service.PurchaseItem(r.Context(), userID, classroomID, itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"itemId": item.ID, "name": item.Name})
}

type awardedItemResponse struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
	Rarity string `json:"rarity"`
}

// OpenBox открывает мистери-бокс и возвращает выпавший предмет.
func (h *Handler) OpenBox(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")

	awarded, err := h.service.OpenBox(r.Context(), userID, classroomID, itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"awardedItem": awardedItemResponse{
			ItemID: awarded.SourceItemID,
			Name:   awarded.Name,
			Rarity: string(awarded.Rarity),
		},
	})
}

// Events подписывает websocket-клиента на события класса.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	classroomID, ok := pathID(w, r, "classroomID")
	if !ok {
		return
	}
	h.hub.Subscribe(w, r, classroomID)
}
