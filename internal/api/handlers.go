package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"darshan/internal/database"
	"darshan/internal/ledger"
	"darshan/internal/models"
	"darshan/internal/service"

	"github.com/skip2/go-qrcode"
)

type createBookingRequest struct {
	SlotID         string `json:"slot_id" validate:"required"`
	Name           string `json:"name" validate:"required,min=2,max=100"`
	Phone          string `json:"phone" validate:"omitempty,len=10,numeric"`
	Email          string `json:"email" validate:"omitempty,email"`
	NumberOfPeople int64  `json:"number_of_people" validate:"required,min=1,max=10"`
}

type createSlotRequest struct {
	ID        string `json:"id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
	Capacity  int64  `json:"capacity" validate:"required,min=1"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createBooking(w, r)
	case http.MethodGet:
		s.bookingsByContact(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Phone == "" && req.Email == "" {
		writeError(w, http.StatusBadRequest, "phone or email is required")
		return
	}

	booking, err := s.bookings.CreateBooking(r.Context(), &models.BookingRequest{
		SlotID:         req.SlotID,
		Name:           req.Name,
		Phone:          req.Phone,
		Email:          req.Email,
		NumberOfPeople: req.NumberOfPeople,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) bookingsByContact(w http.ResponseWriter, r *http.Request) {
	contact := strings.TrimSpace(r.URL.Query().Get("contact"))
	if contact == "" {
		writeError(w, http.StatusBadRequest, "contact is required")
		return
	}

	bookings, err := s.bookings.GetByContact(r.Context(), contact)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/bookings/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "booking id is required")
		return
	}

	switch {
	case sub == "qr" && r.Method == http.MethodGet:
		s.bookingQR(w, r, id)
	case sub == "" && r.Method == http.MethodGet:
		booking, err := s.bookings.GetBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)
	case sub == "" && r.Method == http.MethodDelete:
		booking, err := s.bookings.CancelBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// bookingQR renders the admission token as a QR PNG for printing or
// showing on a phone.
func (s *HTTPServer) bookingQR(w http.ResponseWriter, r *http.Request, id string) {
	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if booking.Token == "" {
		writeError(w, http.StatusConflict, "booking has no admission token")
		return
	}

	png, err := qrcode.Encode(booking.Token, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	slots, err := s.slots.Availability(r.Context(), date)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "slots": slots})
}

func (s *HTTPServer) handleCheckin(w http.ResponseWriter, r *http.Request) {
	s.handleGate(w, r, true)
}

func (s *HTTPServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.handleGate(w, r, false)
}

func (s *HTTPServer) handleGate(w http.ResponseWriter, r *http.Request, consume bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req tokenRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	var decision *models.CheckinDecision
	if consume {
		decision = s.gate.CheckIn(r.Context(), req.Token)
	} else {
		decision = s.gate.Verify(r.Context(), req.Token)
	}
	// Rejections are part of the protocol, not HTTP failures.
	writeJSON(w, http.StatusOK, decision)
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createSlotRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	slot := &models.Slot{
		ID:        req.ID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Capacity:  req.Capacity,
		IsActive:  true,
	}
	if err := s.slots.CreateSlot(r.Context(), slot); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (s *HTTPServer) handleSlotByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/slots/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "slot id is required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		slot, err := s.slots.GetSlot(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, slot)
	case sub == "" && r.Method == http.MethodDelete:
		if err := s.slots.DeleteSlot(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case sub == "capacity" && r.Method == http.MethodPut:
		var req struct {
			Capacity int64 `json:"capacity" validate:"required,min=1"`
		}
		if !s.decodeAndValidate(w, r, &req) {
			return
		}
		if err := s.slots.SetCapacity(r.Context(), id, req.Capacity); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case sub == "active" && r.Method == http.MethodPut:
		var req struct {
			Active *bool `json:"active" validate:"required"`
		}
		if !s.decodeAndValidate(w, r, &req) {
			return
		}
		if err := s.slots.SetActive(r.Context(), id, *req.Active); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start := strings.TrimSpace(r.URL.Query().Get("start"))
	end := strings.TrimSpace(r.URL.Query().Get("end"))
	for _, d := range []string{start, end} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			writeError(w, http.StatusBadRequest, "start and end must be YYYY-MM-DD")
			return
		}
	}

	path, err := s.exporter.OccupancyReport(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

func (s *HTTPServer) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrSlotNotFound), errors.Is(err, database.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidContact), errors.Is(err, service.ErrInvalidParty):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrCapacityExceeded),
		errors.Is(err, ledger.ErrSlotInactive),
		errors.Is(err, ledger.ErrBelowCurrentBookings),
		errors.Is(err, service.ErrDuplicateBooking),
		errors.Is(err, service.ErrPastCutoff),
		errors.Is(err, service.ErrAlreadyCancelled),
		errors.Is(err, service.ErrAlreadyCheckedIn),
		errors.Is(err, database.ErrSlotNotEmpty):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
