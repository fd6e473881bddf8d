package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
)

type modalityApi struct {
	svc      *modality.Service
	users    *user.Service
	validate *validator.Validate
}

func registerModalityAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps Deps) {
	api := modalityApi{
		svc:      deps.ModalitySvc,
		users:    deps.UserSvc,
		validate: deps.Validate,
	}

	mg := g.Group("/modalities", jwt)
	mg.GET("/statuses", api.queryStatuses)
	mg.GET("/transitions", api.queryTransitions)
	mg.GET("/types", api.queryTypes)
	mg.POST("/types", api.createType, adminMiddleware())
	mg.GET("/types/:id", api.retrieveType)

	mg.GET("", api.query)
	mg.POST("", api.start, rolesMiddleware(user.RoleStudent))

	dg := mg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.GET("/history", api.history)
	dg.GET("/actions", api.actions)
	dg.POST("/transitions", api.transition)
	dg.POST("/documents", api.uploadDocument)
	dg.POST("/documents/:subID/review", api.reviewDocument)
	dg.POST("/examiners", api.assignExaminers)
	dg.POST("/evaluations", api.submitEvaluation)
	dg.POST("/invitations", api.invite)
	dg.POST("/confirm-group", api.confirmGroup)
	dg.POST("/abandon-group", api.abandonGroup)

	ig := g.Group("/invitations", jwt)
	ig.GET("", api.queryInvitations)
	ig.POST("/:id/respond", api.respondInvitation)
}

// bind binds and validates the request body into data.
func (api *modalityApi) bind(ctx echo.Context, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		return core.NewValidationError(errors.Wrap(err, "malformed request body"))
	}
	return api.validate.Struct(data)
}

// Handlers

func (api *modalityApi) queryStatuses(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Statuses())
}

func (api *modalityApi) queryTransitions(ctx echo.Context) error {
	rules := api.svc.Engine().Rules()
	rows := make([]TransitionRule, 0, len(rules))
	for _, rule := range rules {
		rows = append(rows, TransitionRule{
			From:       rule.From,
			Role:       rule.Role,
			Action:     rule.Action,
			To:         rule.Target(),
			Who:        rule.Who(),
			NeedsNotes: rule.NeedsNotes(),
		})
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *modalityApi) queryTypes(ctx echo.Context) error {
	types, err := api.svc.QueryTypes(ctx.Request().Context())
	if err != nil {
		return err
	}
	if types == nil {
		types = []modality.ModalityType{}
	}
	return ctx.JSON(http.StatusOK, types)
}

func (api *modalityApi) createType(ctx echo.Context) error {
	var data modality.NewModalityType
	if err := ctx.Bind(&data); err != nil {
		return core.NewValidationError(errors.Wrap(err, "malformed request body"))
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	typ, err := api.svc.CreateType(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, typ)
}

func (api *modalityApi) retrieveType(ctx echo.Context) error {
	typ, err := api.svc.GetType(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, typ)
}

func (api *modalityApi) query(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}

	filter := new(modality.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []modality.Record{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	recs, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings...)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []modality.Record{}
	}
	return ctx.JSON(http.StatusOK, recs)
}

func (api *modalityApi) start(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data StartRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}

	var snap modality.Snapshot
	if data.Group {
		snap, err = api.svc.StartGroupModality(ctx.Request().Context(), actor, data.TypeID)
	} else {
		snap, err = api.svc.StartModality(ctx.Request().Context(), actor, data.TypeID)
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, snap)
}

func (api *modalityApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	snap, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	actions := api.svc.Engine().AvailableActions(snap, actor)
	if actions == nil {
		actions = []modality.Action{}
	}
	return ctx.JSON(http.StatusOK, ModalityResponse{Snapshot: snap, Actions: actions})
}

func (api *modalityApi) history(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	entries, err := api.svc.History(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []modality.HistoryEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *modalityApi) actions(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	actions, err := api.svc.AvailableActions(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	if actions == nil {
		actions = []modality.Action{}
	}
	return ctx.JSON(http.StatusOK, actions)
}

func (api *modalityApi) transition(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data modality.TransitionRequest
	if err := ctx.Bind(&data); err != nil {
		return core.NewValidationError(errors.Wrap(err, "malformed request body"))
	}
	if data.Action == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "action", Error: "this field is required"})
	}
	data.ModalityID = ctx.Param("id")

	snap, err := api.svc.Transition(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *modalityApi) uploadDocument(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data UploadRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}
	sub, err := api.svc.UploadDocument(ctx.Request().Context(), actor, ctx.Param("id"), data.Version, data.RequiredDocumentID, data.StorageRef)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *modalityApi) reviewDocument(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data ReviewRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}
	sub, err := api.svc.ReviewDocument(ctx.Request().Context(), actor, ctx.Param("id"), data.Version, ctx.Param("subID"), data.Decision, data.Notes)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *modalityApi) assignExaminers(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data AssignExaminersRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}
	snap, err := api.svc.AssignExaminers(ctx.Request().Context(), actor, ctx.Param("id"), data.Assignments)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *modalityApi) submitEvaluation(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data EvaluationRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}
	ev, err := api.svc.SubmitEvaluation(ctx.Request().Context(), actor, ctx.Param("id"), data.Version, modality.NewEvaluation{
		Grade:        *data.Grade,
		Decision:     data.Decision,
		Observations: data.Observations,
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, ev)
}

func (api *modalityApi) invite(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data InviteRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}
	inv, err := api.svc.InviteStudent(ctx.Request().Context(), actor, ctx.Param("id"), data.InviteeID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, inv)
}

func (api *modalityApi) confirmGroup(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data ConfirmGroupRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}
	snap, err := api.svc.ConfirmGroup(ctx.Request().Context(), actor, ctx.Param("id"), data.ProceedWithFewer)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *modalityApi) abandonGroup(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data AbandonGroupRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}
	snap, err := api.svc.AbandonGroup(ctx.Request().Context(), actor, ctx.Param("id"), data.Notes)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *modalityApi) queryInvitations(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var statuses []modality.InvitationStatus
	for _, s := range ctx.QueryParams()["status"] {
		statuses = append(statuses, modality.InvitationStatus(s))
	}
	invs, err := api.svc.Invitations(ctx.Request().Context(), actor, statuses...)
	if err != nil {
		return err
	}
	if invs == nil {
		invs = []modality.Invitation{}
	}
	return ctx.JSON(http.StatusOK, invs)
}

func (api *modalityApi) respondInvitation(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.users)
	if err != nil {
		return err
	}
	var data RespondInvitationRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}
	inv, err := api.svc.RespondInvitation(ctx.Request().Context(), actor, ctx.Param("id"), *data.Accept)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, inv)
}

type (
	ModalityResponse struct {
		modality.Snapshot
		Actions []modality.Action `json:"actions"`
	}

	TransitionRule struct {
		From       modality.Status `json:"from"`
		Role       string          `json:"role"`
		Action     modality.Action `json:"action"`
		To         string          `json:"to"`
		Who        string          `json:"who"`
		NeedsNotes bool            `json:"needs_notes"`
	}

	StartRequest struct {
		TypeID string `json:"type_id" validate:"required"`
		Group  bool   `json:"group"`
	}

	UploadRequest struct {
		RequiredDocumentID string `json:"required_document_id" validate:"required"`
		StorageRef         string `json:"storage_ref" validate:"required,notblank"`
		Version            int    `json:"version" validate:"min=0"`
	}

	ReviewRequest struct {
		Decision modality.ReviewDecision `json:"decision" validate:"required,oneof=accept reject request_corrections"`
		Notes    string                  `json:"notes"`
		Version  int                     `json:"version" validate:"min=0"`
	}

	AssignExaminersRequest struct {
		Assignments []modality.NewAssignment `json:"assignments" validate:"required,min=1,dive"`
	}

	EvaluationRequest struct {
		Grade        *float64               `json:"grade" validate:"required"`
		Decision     modality.GradeDecision `json:"decision" validate:"required"`
		Observations string                 `json:"observations"`
		Version      int                    `json:"version" validate:"min=0"`
	}

	InviteRequest struct {
		InviteeID string `json:"invitee_id" validate:"required"`
	}

	ConfirmGroupRequest struct {
		ProceedWithFewer bool `json:"proceed_with_fewer"`
	}

	AbandonGroupRequest struct {
		Notes string `json:"notes"`
	}

	RespondInvitationRequest struct {
		Accept *bool `json:"accept" validate:"required"`
	}
)
