// Package realtime рассылает события классной экономики подписчикам через
// websocket: balance_update, siphon_create, siphon_vote, siphon_update,
// group_update.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

// Event — конверт события реального времени.
type Event struct {
	Event       string `json:"event"`
	ClassroomID int64  `json:"classroomId"`
	Payload     any    `json:"payload"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub держит подписчиков по классам и рассылает им события. Медленный
// подписчик отключается, а не тормозит остальных.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[int64]map[*subscriber]struct{}
}

// NewHub создаёт шину событий.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[int64]map[*subscriber]struct{}),
	}
}

// Publish рассылает событие всем подписчикам класса.
func (h *Hub) Publish(classroomID int64, event string, payload any) {
	data, err := json.Marshal(Event{Event: event, ClassroomID: classroomID, Payload: payload})
	if err != nil {
		h.logger.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[classroomID] {
		select {
		case sub.send <- data:
		default:
			// Переполненный буфер: отписываем, соединение закроет write pump.
			close(sub.send)
			delete(h.subs[classroomID], sub)
		}
	}
}

// Subscribe апгрейдит HTTP-запрос до websocket и подписывает соединение на
// события класса.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, classroomID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade", zap.Error(err))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	if h.subs[classroomID] == nil {
		h.subs[classroomID] = make(map[*subscriber]struct{})
	}
	h.subs[classroomID][sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(classroomID, sub)
	go h.readPump(classroomID, sub)
}

func (h *Hub) writePump(classroomID int64, sub *subscriber) {
	defer sub.conn.Close()

	for msg := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unsubscribe(classroomID, sub)
			return
		}
	}
}

// readPump только следит за закрытием соединения: входящие сообщения от
// клиентов не поддерживаются.
func (h *Hub) readPump(classroomID int64, sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.unsubscribe(classroomID, sub)
			return
		}
	}
}

func (h *Hub) unsubscribe(classroomID int64, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[classroomID]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			close(sub.send)
		}
		if len(set) == 0 {
			delete(h.subs, classroomID)
		}
	}
	sub.conn.Close()
}
