package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/marketplace/pkg/availability"
	"github.com/Mindburn-Labs/marketplace/pkg/catalog"
	"github.com/Mindburn-Labs/marketplace/pkg/lifecycle"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/onboarding"
	"github.com/Mindburn-Labs/marketplace/pkg/search"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Server exposes the marketplace components over JSON.
type Server struct {
	Lifecycle    *lifecycle.Engine
	Availability *availability.Manager
	Catalog      *catalog.Catalog
	Search       *search.Engine
	Onboarding   *onboarding.Service
	Validator    *Validator
}

// PublicPaths are served without a bearer token.
var PublicPaths = []string{
	"/health",
	"/api/v1/services",
	"/api/v1/categories",
	"/api/v1/search/",
	"/api/v1/providers/",
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/v1/services", s.listServices)
	mux.HandleFunc("GET /api/v1/categories", s.listCategories)
	mux.HandleFunc("GET /api/v1/search/tasks", s.searchTasks)
	mux.HandleFunc("GET /api/v1/search/providers", s.searchProviders)
	mux.HandleFunc("GET /api/v1/providers/{id}/offerings", s.providerOfferings)
	mux.HandleFunc("GET /api/v1/providers/{id}/slots", s.providerSlots)
	mux.HandleFunc("GET /api/v1/providers/{id}/bookable", s.providerBookable)

	mux.HandleFunc("POST /api/v1/onboarding/customer", s.onboardCustomer)
	mux.HandleFunc("POST /api/v1/onboarding/provider", s.onboardProvider)

	mux.HandleFunc("POST /api/v1/tasks", s.postTask)
	mux.HandleFunc("GET /api/v1/tasks", s.myTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.getTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/applications", s.applyToTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}/applications", s.listApplications)
	mux.HandleFunc("POST /api/v1/tasks/{id}/assign", s.assignProvider)
	mux.HandleFunc("POST /api/v1/tasks/{id}/start", s.taskTransition((*lifecycle.Engine).StartTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/complete", s.taskTransition((*lifecycle.Engine).CompleteTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.taskTransition((*lifecycle.Engine).CancelTask))

	mux.HandleFunc("POST /api/v1/bookings", s.createBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", s.getBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/accept", s.bookingTransition((*lifecycle.Engine).AcceptBooking))
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", s.bookingTransition((*lifecycle.Engine).CompleteBooking))
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", s.cancelBooking)

	mux.HandleFunc("POST /api/v1/slots", s.addSlot)
	mux.HandleFunc("DELETE /api/v1/slots/{id}", s.removeSlot)
	mux.HandleFunc("PUT /api/v1/slots/{id}/available", s.setSlotAvailable)

	mux.HandleFunc("PUT /api/v1/offerings", s.upsertOffering)
	mux.HandleFunc("PUT /api/v1/offerings/{id}/active", s.setOfferingActive)

	mux.HandleFunc("GET /api/v1/dashboard/customer", s.customerDashboard)
	mux.HandleFunc("GET /api/v1/dashboard/provider", s.providerDashboard)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// actor returns the caller or writes a 401.
func actor(w http.ResponseWriter, r *http.Request) (market.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
	}
	return a, ok
}

// respond writes v, or the problem for err.
func respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		WriteMarketError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Catalog.Services())
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Catalog.Categories())
}

// Page is one window of a search result.
type Page[T any] struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Items  []T `json:"items"`
}

func (s *Server) parseQuery(w http.ResponseWriter, r *http.Request) (search.Query, int, int, bool) {
	v := r.URL.Query()
	q := search.Query{
		FreeText:   v.Get("q"),
		CategoryID: v.Get("category"),
		Location:   v.Get("location"),
		Sort:       search.SortKey(v.Get("sort")),
		Where:      v.Get("where"),
	}
	if preset := v.Get("window"); preset != "" {
		win, err := s.Search.ResolveWindow(search.WindowPreset(preset))
		if err != nil {
			WriteMarketError(w, r, err)
			return q, 0, 0, false
		}
		q.Window = win
	}
	if from, to := v.Get("from"), v.Get("to"); from != "" || to != "" {
		f, err1 := market.ParseDate(from)
		t, err2 := market.ParseDate(to)
		if err1 != nil || err2 != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "from and to must both be YYYY-MM-DD")
			return q, 0, 0, false
		}
		q.Window = &search.DateWindow{From: f, To: t}
	}
	offset, _ := strconv.Atoi(v.Get("offset"))
	limit, _ := strconv.Atoi(v.Get("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	return q, max(offset, 0), min(limit, maxPageSize), true
}

func (s *Server) searchTasks(w http.ResponseWriter, r *http.Request) {
	q, offset, limit, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	res, err := s.Search.Tasks(r.Context(), q)
	if err != nil {
		WriteMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Page[search.TaskMatch]{Total: res.Len(), Offset: offset, Limit: limit, Items: res.Window(offset, limit)})
}

func (s *Server) searchProviders(w http.ResponseWriter, r *http.Request) {
	q, offset, limit, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	res, err := s.Search.Providers(r.Context(), q)
	if err != nil {
		WriteMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Page[search.ProviderMatch]{Total: res.Len(), Offset: offset, Limit: limit, Items: res.Window(offset, limit)})
}

func (s *Server) providerOfferings(w http.ResponseWriter, r *http.Request) {
	out, err := s.Catalog.OfferingsFor(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) providerSlots(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	day := r.URL.Query().Get("day")
	if day == "" {
		out, err := s.Availability.WeeklySchedule(r.Context(), id)
		respond(w, r, http.StatusOK, out, err)
		return
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "day must be 0-6")
		return
	}
	out, err := s.Availability.SlotsFor(r.Context(), id, time.Weekday(d))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) providerBookable(w http.ResponseWriter, r *http.Request) {
	date, err := market.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
		return
	}
	out, err := s.Availability.BookableWindows(r.Context(), r.PathValue("id"), date)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) onboardCustomer(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in onboarding.ProfileInput
	if !s.Validator.Decode(w, r, "profile", &in) {
		return
	}
	out, err := s.Onboarding.CommitCustomer(r.Context(), a, in)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) onboardProvider(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var d onboarding.Draft
	if !s.Validator.Decode(w, r, "provider_onboarding", &d) {
		return
	}
	out, err := s.Onboarding.Commit(r.Context(), a, &d)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) postTask(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in lifecycle.PostTaskInput
	if !s.Validator.Decode(w, r, "post_task", &in) {
		return
	}
	out, err := s.Lifecycle.PostTask(r.Context(), a, in)
	respond(w, r, http.StatusCreated, out, err)
}

// myTasks lists the caller's posted tasks, or for a provider the tasks
// assigned to them. ?status= may repeat.
func (s *Server) myTasks(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var statuses []market.TaskStatus
	for _, v := range r.URL.Query()["status"] {
		st, err := market.ParseTaskStatus(v)
		if err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		statuses = append(statuses, st)
	}
	var (
		out []*market.Task
		err error
	)
	if a.IsProvider() {
		out, err = s.Lifecycle.ProviderTasks(r.Context(), a, statuses...)
	} else {
		out, err = s.Lifecycle.CustomerTasks(r.Context(), a, statuses...)
	}
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	out, err := s.Lifecycle.GetTask(r.Context(), a, r.PathValue("id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) applyToTask(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in struct {
		Message string `json:"message"`
	}
	if !s.Validator.Decode(w, r, "apply", &in) {
		return
	}
	out, err := s.Lifecycle.ApplyToTask(r.Context(), a, r.PathValue("id"), in.Message)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	out, err := s.Lifecycle.ListApplications(r.Context(), a, r.PathValue("id"))
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) assignProvider(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in struct {
		ApplicationID string `json:"application_id"`
	}
	if !s.Validator.Decode(w, r, "assign", &in) {
		return
	}
	out, err := s.Lifecycle.AssignProvider(r.Context(), a, r.PathValue("id"), in.ApplicationID)
	respond(w, r, http.StatusOK, out, err)
}

type taskOp func(*lifecycle.Engine, context.Context, market.Actor, string) (*market.Task, error)

func (s *Server) taskTransition(fn taskOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actor(w, r)
		if !ok {
			return
		}
		out, err := fn(s.Lifecycle, r.Context(), a, r.PathValue("id"))
		respond(w, r, http.StatusOK, out, err)
	}
}

func (s *Server) createBooking(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in lifecycle.CreateBookingInput
	if !s.Validator.Decode(w, r, "create_booking", &in) {
		return
	}
	out, err := s.Lifecycle.CreateBooking(r.Context(), a, in)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) getBooking(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	out, err := s.Lifecycle.GetBooking(r.Context(), a, r.PathValue("id"))
	respond(w, r, http.StatusOK, out, err)
}

type bookingOp func(*lifecycle.Engine, context.Context, market.Actor, string) (*market.Booking, error)

func (s *Server) bookingTransition(fn bookingOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actor(w, r)
		if !ok {
			return
		}
		out, err := fn(s.Lifecycle, r.Context(), a, r.PathValue("id"))
		respond(w, r, http.StatusOK, out, err)
	}
}

func (s *Server) cancelBooking(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in struct {
		Reason string `json:"reason"`
	}
	if !s.Validator.Decode(w, r, "cancel", &in) {
		return
	}
	out, err := s.Lifecycle.CancelBooking(r.Context(), a, r.PathValue("id"), in.Reason)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) addSlot(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in onboarding.SlotRow
	if !s.Validator.Decode(w, r, "add_slot", &in) {
		return
	}
	out, err := s.Availability.AddSlot(r.Context(), a, in.DayOfWeek, in.StartTime, in.EndTime)
	respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) removeSlot(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	if err := s.Availability.RemoveSlot(r.Context(), a, r.PathValue("id")); err != nil {
		WriteMarketError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setSlotAvailable(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in struct {
		Available bool `json:"available"`
	}
	if !s.Validator.Decode(w, r, "set_available", &in) {
		return
	}
	out, err := s.Availability.SetAvailable(r.Context(), a, r.PathValue("id"), in.Available)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) upsertOffering(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in onboarding.OfferingRow
	if !s.Validator.Decode(w, r, "upsert_offering", &in) {
		return
	}
	out, err := s.Catalog.UpsertOffering(r.Context(), a, in.ServiceID, in.HourlyRate, in.Description)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) setOfferingActive(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var in struct {
		Active bool `json:"active"`
	}
	if !s.Validator.Decode(w, r, "set_active", &in) {
		return
	}
	out, err := s.Catalog.SetActive(r.Context(), a, r.PathValue("id"), in.Active)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) customerDashboard(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	out, err := s.Lifecycle.CustomerDashboard(r.Context(), a)
	respond(w, r, http.StatusOK, out, err)
}

func (s *Server) providerDashboard(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	out, err := s.Lifecycle.ProviderDashboard(r.Context(), a)
	respond(w, r, http.StatusOK, out, err)
}
