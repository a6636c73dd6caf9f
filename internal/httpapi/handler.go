package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"qms/scheduler/internal/models"
	"qms/scheduler/internal/scheduler"
	"qms/scheduler/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

// Service is the scheduling surface the handler drives. *scheduler.Service
// satisfies it.
type Service interface {
	CreateTicket(ctx context.Context, req scheduler.CreateTicketRequest) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	CallNext(ctx context.Context, ticketID, windowNo string) (models.Ticket, error)
	ServeNow(ctx context.Context, ticketID, windowNo string) (models.Ticket, error)
	Finish(ctx context.Context, ticketID string) (models.Ticket, error)
	Cancel(ctx context.Context, ticketID string) (models.Ticket, error)
	CancelByOfficeAndNumber(ctx context.Context, office string, officeTicketNo int) (models.Ticket, error)
	UpdateStatus(ctx context.Context, ticketID, status, windowNo string) (models.Ticket, error)
	ResetOfficeNumbering(ctx context.Context, office string) (int64, error)
	ListOfficeTickets(ctx context.Context, office string) ([]models.Ticket, error)
	ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error)
	WaitingCount(ctx context.Context, office string) (int, error)

	ActiveQueue(ctx context.Context, office string) ([]models.WindowQueue, error)
	NowServing(ctx context.Context, office string) (*int, error)

	ListSlots(ctx context.Context, office string, date time.Time) ([]models.Slot, error)

	Book(ctx context.Context, req scheduler.BookRequest) (models.Appointment, error)
	Confirm(ctx context.Context, appointmentID string) (models.Appointment, models.Ticket, error)
	CancelAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	ListUserAppointments(ctx context.Context, userID string) ([]models.Appointment, error)
}

type Handler struct {
	svc      Service
	ready    func(ctx context.Context) error
	validate *validator.Validate
}

type Options struct {
	// Ready backs /healthz. Nil means always healthy.
	Ready func(ctx context.Context) error
}

type createTicketRequest struct {
	UserID         string         `json:"user_id" validate:"max=100"`
	Name           string         `json:"name" validate:"max=200"`
	Office         string         `json:"office" validate:"required,max=100"`
	Service        string         `json:"service" validate:"max=100"`
	AdditionalInfo models.Payload `json:"additional_info"`
	FormData       models.Payload `json:"form_data"`
	PriorityLane   bool           `json:"priority_lane"`
}

type windowRequest struct {
	WindowNo string `json:"window_no" validate:"required,max=50"`
}

type statusRequest struct {
	Status   string `json:"status" validate:"required,oneof=waiting called in_progress done cancelled"`
	WindowNo string `json:"window_no" validate:"max=50"`
}

type bookRequest struct {
	UserID         string         `json:"user_id" validate:"max=100"`
	Name           string         `json:"name" validate:"max=200"`
	Office         string         `json:"office" validate:"required,max=100"`
	Service        string         `json:"service" validate:"max=100"`
	Date           string         `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	Time           string         `json:"appointment_time" validate:"required,max=8"`
	AdditionalInfo models.Payload `json:"additional_info"`
	PriorityLane   bool           `json:"priority_lane"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ticketsResponse struct {
	Tickets []models.Ticket `json:"tickets"`
}

type appointmentsResponse struct {
	Appointments []models.Appointment `json:"appointments"`
}

type queueResponse struct {
	Office  string               `json:"office"`
	Windows []models.WindowQueue `json:"windows"`
}

type nowServingResponse struct {
	Office         string `json:"office"`
	OfficeTicketNo *int   `json:"office_ticket_no"`
}

type waitingCountResponse struct {
	Office  string `json:"office"`
	Waiting int    `json:"waiting"`
}

type resetResponse struct {
	Office string `json:"office"`
	Reset  int64  `json:"reset"`
}

type slotsResponse struct {
	Office string        `json:"office"`
	Date   string        `json:"date"`
	Slots  []models.Slot `json:"slots"`
}

type confirmResponse struct {
	Appointment models.Appointment `json:"appointment"`
	Ticket      models.Ticket      `json:"ticket"`
}

func NewHandler(svc Service, options Options) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		svc:      svc,
		ready:    options.Ready,
		validate: validate,
	}
}

func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tickets", h.handleCreateTicket).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id}", h.handleGetTicket).Methods(http.MethodGet)
	api.HandleFunc("/tickets/{id}/call", h.handleCallTicket).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id}/serve", h.handleServeTicket).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id}/finish", h.handleFinishTicket).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id}/cancel", h.handleCancelTicket).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id}/status", h.handleUpdateStatus).Methods(http.MethodPatch)

	api.HandleFunc("/offices/{office}/tickets/{number:[0-9]+}/cancel", h.handleCancelByNumber).Methods(http.MethodPost)
	api.HandleFunc("/offices/{office}/reset", h.handleResetOffice).Methods(http.MethodPost)
	api.HandleFunc("/offices/{office}/queue", h.handleActiveQueue).Methods(http.MethodGet)
	api.HandleFunc("/offices/{office}/now-serving", h.handleNowServing).Methods(http.MethodGet)
	api.HandleFunc("/offices/{office}/waiting-count", h.handleWaitingCount).Methods(http.MethodGet)
	api.HandleFunc("/offices/{office}/tickets", h.handleOfficeTickets).Methods(http.MethodGet)
	api.HandleFunc("/offices/{office}/slots", h.handleListSlots).Methods(http.MethodGet)

	api.HandleFunc("/users/{userId}/tickets", h.handleUserTickets).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/appointments", h.handleUserAppointments).Methods(http.MethodGet)

	api.HandleFunc("/appointments", h.handleBook).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}", h.handleGetAppointment).Methods(http.MethodGet)
	api.HandleFunc("/appointments/{id}/confirm", h.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}/cancel", h.handleCancelAppointment).Methods(http.MethodPost)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "store_unavailable", "store unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, ok := resolveUser(w, r, req.UserID)
	if !ok {
		return
	}

	ticket, err := h.svc.CreateTicket(r.Context(), scheduler.CreateTicketRequest{
		UserID:         userID,
		Name:           req.Name,
		Office:         req.Office,
		Service:        req.Service,
		AdditionalInfo: req.AdditionalInfo,
		FormData:       req.FormData,
		PriorityLane:   req.PriorityLane,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, ok := h.ownedTicket(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCallTicket(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req windowRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.svc.CallNext(r.Context(), mux.Vars(r)["id"], req.WindowNo)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleServeTicket(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req windowRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.svc.ServeNow(r.Context(), mux.Vars(r)["id"], req.WindowNo)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleFinishTicket(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	ticket, err := h.svc.Finish(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCancelTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := mux.Vars(r)["id"]
	current, err := h.svc.GetTicket(r.Context(), ticketID)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			err = store.ErrNotFoundOrAlreadyTerminal
		}
		respondError(w, r, err)
		return
	}
	if !requireSelfOrStaff(w, r, current.UserID) {
		return
	}
	ticket, err := h.svc.Cancel(r.Context(), ticketID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.svc.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status, req.WindowNo)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCancelByNumber(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	vars := mux.Vars(r)
	number, err := strconv.Atoi(vars["number"])
	if err != nil || number <= 0 {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "ticket number must be a positive integer")
		return
	}
	ticket, err := h.svc.CancelByOfficeAndNumber(r.Context(), vars["office"], number)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleResetOffice(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	office := mux.Vars(r)["office"]
	affected, err := h.svc.ResetOfficeNumbering(r.Context(), office)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{Office: office, Reset: affected})
}

func (h *Handler) handleActiveQueue(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	office := mux.Vars(r)["office"]
	windows, err := h.svc.ActiveQueue(r.Context(), office)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if windows == nil {
		windows = []models.WindowQueue{}
	}
	writeJSON(w, http.StatusOK, queueResponse{Office: office, Windows: windows})
}

func (h *Handler) handleNowServing(w http.ResponseWriter, r *http.Request) {
	office := mux.Vars(r)["office"]
	number, err := h.svc.NowServing(r.Context(), office)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nowServingResponse{Office: office, OfficeTicketNo: number})
}

func (h *Handler) handleWaitingCount(w http.ResponseWriter, r *http.Request) {
	office := mux.Vars(r)["office"]
	waiting, err := h.svc.WaitingCount(r.Context(), office)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, waitingCountResponse{Office: office, Waiting: waiting})
}

func (h *Handler) handleOfficeTickets(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	tickets, err := h.svc.ListOfficeTickets(r.Context(), mux.Vars(r)["office"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketsResponse{Tickets: nonNil(tickets)})
}

func (h *Handler) handleListSlots(w http.ResponseWriter, r *http.Request) {
	office := mux.Vars(r)["office"]
	rawDate := strings.TrimSpace(r.URL.Query().Get("date"))
	date, err := models.ParseDate(rawDate)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	slots, err := h.svc.ListSlots(r.Context(), office, date)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Office: office, Date: date.Format(models.DateLayout), Slots: slots})
}

func (h *Handler) handleUserTickets(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !requireSelfOrStaff(w, r, userID) {
		return
	}
	tickets, err := h.svc.ListUserTickets(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketsResponse{Tickets: nonNil(tickets)})
}

func (h *Handler) handleUserAppointments(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !requireSelfOrStaff(w, r, userID) {
		return
	}
	appts, err := h.svc.ListUserAppointments(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentsResponse{Appointments: nonNil(appts)})
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, ok := resolveUser(w, r, req.UserID)
	if !ok {
		return
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "appointment_date must be YYYY-MM-DD")
		return
	}

	appt, err := h.svc.Book(r.Context(), scheduler.BookRequest{
		UserID:         userID,
		Name:           req.Name,
		Office:         req.Office,
		Service:        req.Service,
		Date:           date,
		Time:           req.Time,
		AdditionalInfo: req.AdditionalInfo,
		PriorityLane:   req.PriorityLane,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.ownedAppointment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	appt, ticket, err := h.svc.Confirm(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{Appointment: appt, Ticket: ticket})
}

func (h *Handler) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownedAppointment(w, r); !ok {
		return
	}
	appt, err := h.svc.CancelAppointment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// ownedTicket loads the path ticket and checks the caller may see it.
func (h *Handler) ownedTicket(w http.ResponseWriter, r *http.Request) (models.Ticket, bool) {
	ticket, err := h.svc.GetTicket(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return models.Ticket{}, false
	}
	if !requireSelfOrStaff(w, r, ticket.UserID) {
		return models.Ticket{}, false
	}
	return ticket, true
}

func (h *Handler) ownedAppointment(w http.ResponseWriter, r *http.Request) (models.Appointment, bool) {
	appt, err := h.svc.GetAppointment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return models.Appointment{}, false
	}
	if !requireSelfOrStaff(w, r, appt.UserID) {
		return models.Appointment{}, false
	}
	return appt, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "invalid request payload"
	}
	return strings.Join(lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}), "; ")
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r).WithError(err).Error("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrDuplicateActiveRequest):
		return http.StatusConflict, "duplicate_active_request", "an active ticket already exists for this office"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "current status does not allow this action"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrNotFoundOrAlreadyTerminal):
		return http.StatusNotFound, "not_found_or_terminal", "ticket not found or already finished"
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrSlotFull):
		return http.StatusConflict, "slot_full", "slot is fully booked"
	case errors.Is(err, store.ErrInvalidDate):
		return http.StatusUnprocessableEntity, "invalid_date", err.Error()
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "store unavailable, retry later"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
