package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/krobus00/pricefeed-service/internal/cache"
	"github.com/krobus00/pricefeed-service/internal/entity"
	"github.com/krobus00/pricefeed-service/internal/hub"
	"github.com/krobus00/pricefeed-service/internal/repository"
	"github.com/sirupsen/logrus"
)

type LatestPriceResponse struct {
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Time         int64  `json:"time"`
	Quantity     string `json:"quantity"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

type Handler struct {
	hub      *hub.Hub
	cache    cache.PriceCache
	tickRepo *repository.PriceTickRepository
	upgrader websocket.Upgrader
}

// NewPricefeedHTTPHandler wires the live stream endpoint and the
// latest-price boundary endpoint. tickRepo may be nil when the archive
// is disabled; the cache is then the only source for latest prices.
func NewPricefeedHTTPHandler(h *hub.Hub, priceCache cache.PriceCache, tickRepo *repository.PriceTickRepository) *Handler {
	return &Handler{
		hub:      h,
		cache:    priceCache,
		tickRepo: tickRepo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.Stream)
	mux.HandleFunc("/api/v1/prices/latest", h.LatestPrice)
}

// Stream upgrades the connection and hands it to the hub. Once upgraded
// the session owns the connection; the HTTP handler returns immediately.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("websocket upgrade failed: %v", err)
		return
	}

	session, ok := hub.Attach(h.hub, conn)
	if !ok {
		// hub no longer accepts sessions, stop taking new clients
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "not accepting new sessions"))
		_ = conn.Close()
		return
	}

	logrus.WithFields(logrus.Fields{
		"session":     session.ID(),
		"remote_addr": r.RemoteAddr,
	}).Info("client stream opened")
}

func (h *Handler) LatestPrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "symbol is required"})
		return
	}

	update, found, err := h.cache.Get(r.Context(), symbol)
	if err != nil {
		logrus.Warnf("latest price cache lookup failed for %s: %v", symbol, err)
	}

	if !found && h.tickRepo != nil {
		tick, repoErr := h.tickRepo.LatestBySymbol(r.Context(), symbol)
		if repoErr != nil {
			logrus.Errorf("latest price archive lookup failed for %s: %v", symbol, repoErr)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
			return
		}

		if tick != nil {
			update = entity.PriceUpdate{
				Symbol:       tick.Symbol,
				Price:        tick.Price.String(),
				Time:         tick.EventTime.UnixMilli(),
				Quantity:     tick.Quantity.String(),
				IsBuyerMaker: tick.IsBuyerMaker,
			}
			found = true
		}
	}

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no price for symbol"})
		return
	}

	writeJSON(w, http.StatusOK, LatestPriceResponse{
		Symbol:       update.Symbol,
		Price:        update.Price,
		Time:         update.Time,
		Quantity:     update.Quantity,
		IsBuyerMaker: update.IsBuyerMaker,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
