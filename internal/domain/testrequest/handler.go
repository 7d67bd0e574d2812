package testrequest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/upstac/upstac/internal/platform/auth"
	"github.com/upstac/upstac/pkg/pagination"
)

type Handler struct {
	requests      *RequestService
	query         *QueryService
	lab           *LabService
	consultations *ConsultationService
}

// NewHandler creates a Handler over the four workflow services.
func NewHandler(requests *RequestService, query *QueryService, lab *LabService, consultations *ConsultationService) *Handler {
	return &Handler{requests: requests, query: query, lab: lab, consultations: consultations}
}

// RegisterRoutes mounts the workflow endpoints on api with their role checks.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Requester endpoints
	users := api.Group("/test-requests", auth.RequireRole(auth.RoleUser))
	users.POST("", h.CreateTestRequest)
	users.GET("", h.ListMyTestRequests)

	// Read endpoints. Plain users only see their own requests.
	read := api.Group("/test-requests", auth.RequireRole(auth.RoleUser, auth.RoleTester, auth.RoleDoctor))
	read.GET("/:id", h.GetTestRequest)
	read.GET("/:id/flow", h.GetTestRequestFlow)

	lab := api.Group("/laboratory", auth.RequireRole(auth.RoleTester))
	lab.GET("/to-be-tested", h.ListForTesting)
	lab.GET("", h.ListMyLabTests)
	lab.PUT("/assign/:id", h.AssignForLabTest)
	lab.PUT("/update/:id", h.UpdateLabTest)

	cons := api.Group("/consultations", auth.RequireRole(auth.RoleDoctor))
	cons.GET("/in-queue", h.ListForConsultation)
	cons.GET("", h.ListMyConsultations)
	cons.PUT("/assign/:id", h.AssignForConsultation)
	cons.PUT("/update/:id", h.UpdateConsultation)
	cons.GET("/:id/draft", h.DraftConsultation)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{ID: auth.UserIDFromContext(ctx), Roles: auth.RolesFromContext(ctx)}
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, ErrNotFound
	}
	return id, nil
}

// httpError maps domain errors to HTTP responses.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, "ConstraintViolationException: "+ve.Field+" "+ve.Reason)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func bindError(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, "ConstraintViolationException: body "+err.Error())
}

func page(c echo.Context, items []*TestRequest) error {
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

// -- Test requests --

func (h *Handler) CreateTestRequest(c echo.Context) error {
	var in CreateTestRequestInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	tr, err := h.requests.CreateTestRequest(c.Request().Context(), actorFrom(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, tr)
}

func (h *Handler) ListMyTestRequests(c echo.Context) error {
	items, err := h.query.FindByCreator(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return httpError(err)
	}
	return page(c, items)
}

// visible hides other users' requests from actors who only hold the user role.
func visible(actor Actor, tr *TestRequest) bool {
	return tr.CreatedByID == actor.ID || auth.HasRole(actor.Roles, auth.RoleTester, auth.RoleDoctor)
}

func (h *Handler) GetTestRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	tr, err := h.query.FindByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if !visible(actorFrom(c), tr) {
		return httpError(ErrNotFound)
	}
	return c.JSON(http.StatusOK, tr)
}

func (h *Handler) GetTestRequestFlow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	ctx := c.Request().Context()
	tr, err := h.query.FindByID(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !visible(actorFrom(c), tr) {
		return httpError(ErrNotFound)
	}
	flows, err := h.query.FlowOf(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if flows == nil {
		flows = []*RequestFlow{}
	}
	return c.JSON(http.StatusOK, flows)
}

// -- Laboratory --

func (h *Handler) ListForTesting(c echo.Context) error {
	items, err := h.query.FindByStatus(c.Request().Context(), StatusInitiated)
	if err != nil {
		return httpError(err)
	}
	return page(c, items)
}

func (h *Handler) ListMyLabTests(c echo.Context) error {
	items, err := h.query.FindByTester(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return httpError(err)
	}
	return page(c, items)
}

func (h *Handler) AssignForLabTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	tr, err := h.lab.AssignForLabTest(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

func (h *Handler) UpdateLabTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	var in LabResultInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	tr, err := h.lab.UpdateLabTest(c.Request().Context(), id, actorFrom(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

// -- Consultations --

func (h *Handler) ListForConsultation(c echo.Context) error {
	items, err := h.query.FindByStatus(c.Request().Context(), StatusLabTestCompleted)
	if err != nil {
		return httpError(err)
	}
	return page(c, items)
}

func (h *Handler) ListMyConsultations(c echo.Context) error {
	items, err := h.query.FindByDoctor(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return httpError(err)
	}
	return page(c, items)
}

func (h *Handler) AssignForConsultation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	tr, err := h.consultations.AssignForConsultation(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

func (h *Handler) UpdateConsultation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	var in ConsultationInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	tr, err := h.consultations.UpdateConsultation(c.Request().Context(), id, actorFrom(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

// DraftConsultation returns the customary suggestion for the recorded lab
// outcome without changing the request.
func (h *Handler) DraftConsultation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	tr, err := h.query.FindByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if !tr.LabResult.Completed() {
		return echo.NewHTTPError(http.StatusConflict, "lab test of request "+strconv.FormatInt(id, 10)+" is not completed")
	}
	draft, ok := SuggestConsultation(tr.LabResult.Result)
	if !ok {
		return httpError(ErrInconsistentState)
	}
	return c.JSON(http.StatusOK, draft)
}
