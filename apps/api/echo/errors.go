package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errRoleNotGranted       = echo.NewHTTPError(http.StatusForbidden, "acting role not granted")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// workflowError is the JSON body of a failed workflow operation.
type workflowError struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	Documents []string `json:"documents,omitempty"`
}

var workflowCodes = []struct {
	err    error
	status int
	code   string
}{
	{modality.ErrNotFound, http.StatusNotFound, "not_found"},
	{modality.ErrUnauthorizedTransition, http.StatusForbidden, "unauthorized_transition"},
	{modality.ErrMissingMandatoryReason, http.StatusBadRequest, "missing_mandatory_reason"},
	{modality.ErrInvalidGrade, http.StatusBadRequest, "invalid_grade"},
	{modality.ErrInconsistentGradeDecision, http.StatusBadRequest, "inconsistent_grade_decision"},
	{modality.ErrDuplicateExaminerAssignment, http.StatusBadRequest, "duplicate_examiner_assignment"},
	{modality.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
	{modality.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{modality.ErrTerminalState, http.StatusConflict, "terminal_state"},
	{modality.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{modality.ErrIncompleteDocuments, http.StatusConflict, "incomplete_documents"},
	{modality.ErrDocumentLocked, http.StatusConflict, "document_locked"},
	{modality.ErrEvaluationExists, http.StatusConflict, "evaluation_exists"},
	{modality.ErrInvitationCapacityExceeded, http.StatusConflict, "invitation_capacity_exceeded"},
	{modality.ErrInvitationConflict, http.StatusConflict, "invitation_conflict"},
	{modality.ErrInvitationsPending, http.StatusConflict, "invitations_pending"},
	{modality.ErrGroupTooSmall, http.StatusConflict, "group_too_small"},
	{modality.ErrActiveModalityExists, http.StatusConflict, "active_modality_exists"},
	{modality.ErrStaleState, http.StatusConflict, "stale_state"},
}

// workflowStatus maps a workflow error to its HTTP status. ok is false for non workflow errors.
func workflowStatus(err error) (status int, body workflowError, ok bool) {
	for _, wc := range workflowCodes {
		if errors.Is(err, wc.err) {
			body = workflowError{Error: err.Error(), Code: wc.code}
			var merr *modality.Error
			if errors.As(err, &merr) {
				body.Documents = merr.Documents
			}
			return wc.status, body, true
		}
	}
	return 0, workflowError{}, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var (
			httpErr *echo.HTTPError
			valErrs validator.ValidationErrors
			appErr  *core.ValidationError
		)
		if status, body, ok := workflowStatus(err); ok {
			code = status
			message = body
			if status == http.StatusServiceUnavailable {
				logger.Error(fmt.Sprintf("%s %s: %v", ctx.Request().Method, ctx.Path(), err), err)
			}
		} else if errors.As(err, &httpErr) {
			if httpErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = httpErr.Message
			} else {
				if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
					httpErr = herr
				}
				code = httpErr.Code
				message = httpErr.Message
			}
		} else if errors.As(err, &valErrs) {
			fldErrs := make(map[string]string, len(valErrs))
			for _, vErr := range valErrs {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		} else if errors.As(err, &appErr) {
			if fldErrs := appErr.FieldMap(); fldErrs != nil {
				message = fldErrs
			} else {
				message = appErr.Error()
			}
			code = http.StatusBadRequest
		} else if errors.Is(err, user.ErrNotFound) {
			code = http.StatusNotFound
			message = errHttpNotFound.Message
		} else { // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Username = claims.Username
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) && signalShutdown != nil {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
