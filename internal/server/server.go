package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"meritflow/internal/domain"
	"meritflow/internal/engine"
	"meritflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"contribution contrib_abc not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Meritflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Meritflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerContributions(group, cfg.Engine)
	registerVerifications(group, cfg.Engine)
	registerContributors(group, cfg.Engine)
	registerRewards(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve repo.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	var ce repo.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"resource": ce.Resource})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	oas.Security = []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Meritflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Marketplace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.Repo.CountContributionsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		lastEvent, err := e.Repo.LatestEventID(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		minVerifications, threshold := e.Policy()
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"contribution_counts": counts,
			"last_event_id":       lastEvent,
			"consensus": map[string]any{
				"min_verifications": minVerifications,
				"threshold":         threshold,
			},
		}}, nil
	})
}

func registerContributions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contribution",
		Method:        http.MethodPost,
		Path:          "/contributions",
		Summary:       "Submit a contribution",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateContributionRequest `json:"body"`
	}) (*struct {
		Body domain.Contribution `json:"body"`
	}, error) {
		submitter := input.Body.Submitter
		if submitter == "" {
			if p, ok := principalFromContext(ctx); ok {
				submitter = p.Subject
			}
		}
		opts := engine.ContributionCreateOptions{
			Submitter:   submitter,
			Type:        input.Body.Type,
			Metadata:    input.Body.Metadata,
			ContentHash: input.Body.ContentHash,
		}
		if input.Body.StorageRef != nil {
			opts.StorageRef = *input.Body.StorageRef
		}
		c, err := e.CreateContribution(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contribution `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contributions",
		Method:      http.MethodGet,
		Path:        "/contributions",
		Summary:     "List contributions",
	}, func(ctx context.Context, input *struct {
		Submitter string `query:"submitter"`
		Status    string `query:"status" enum:",pending,verifying,verified,rejected,failed"`
		Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []domain.Contribution `json:"body"`
	}, error) {
		items, err := e.Repo.ListContributions(ctx, repo.ContributionFilter{
			Submitter: input.Submitter,
			Status:    input.Status,
		}, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Contribution `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contribution",
		Method:      http.MethodGet,
		Path:        "/contributions/{contribution_id}",
		Summary:     "Get contribution",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContributionID string `path:"contribution_id"`
	}) (*struct {
		Body domain.Contribution `json:"body"`
	}, error) {
		c, err := e.Repo.GetContribution(ctx, input.ContributionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contribution `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contribution-status",
		Method:      http.MethodGet,
		Path:        "/contributions/{contribution_id}/status",
		Summary:     "Get verification status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContributionID string `path:"contribution_id"`
	}) (*struct {
		Body ContributionStatusResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetContribution(ctx, input.ContributionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContributionStatusResponse `json:"body"`
		}{Body: statusResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contribution-consensus",
		Method:      http.MethodGet,
		Path:        "/contributions/{contribution_id}/consensus",
		Summary:     "Get consensus projection",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContributionID string `path:"contribution_id"`
	}) (*struct {
		Body domain.Consensus `json:"body"`
	}, error) {
		cons, err := e.Consensus(ctx, input.ContributionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Consensus `json:"body"`
		}{Body: cons}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contribution-verifications",
		Method:      http.MethodGet,
		Path:        "/contributions/{contribution_id}/verifications",
		Summary:     "List verifications for a contribution",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContributionID string `path:"contribution_id"`
	}) (*struct {
		Body []domain.Verification `json:"body"`
	}, error) {
		if _, err := e.Repo.GetContribution(ctx, input.ContributionID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListVerificationsForContribution(ctx, input.ContributionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Verification `json:"body"`
		}{Body: items}, nil
	})
}

func registerVerifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-verification",
		Method:        http.MethodPost,
		Path:          "/verifications",
		Summary:       "Submit an agent verification",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body SubmitVerificationRequest `json:"body"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		agentID := input.Body.AgentID
		if agentID == "" {
			if p, ok := principalFromContext(ctx); ok {
				agentID = p.Subject
			}
		}
		v, err := e.SubmitVerification(ctx, engine.VerificationSubmitOptions{
			ContributionID: input.Body.ContributionID,
			AgentID:        agentID,
			Vote:           input.Body.Vote,
			Score:          input.Body.Score,
			Reasoning:      input.Body.Reasoning,
			Details:        input.Body.Details,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-verification",
		Method:      http.MethodGet,
		Path:        "/verifications/{verification_id}",
		Summary:     "Get verification",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VerificationID string `path:"verification_id"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		v, err := e.Repo.GetVerification(ctx, input.VerificationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})
}

func registerContributors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-contributor",
		Method:        http.MethodPost,
		Path:          "/contributors",
		Summary:       "Register a contributor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterContributorRequest `json:"body"`
	}) (*struct {
		Body domain.Contributor `json:"body"`
	}, error) {
		c, err := e.RegisterContributor(ctx, input.Body.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contributor `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contributors",
		Method:      http.MethodGet,
		Path:        "/contributors",
		Summary:     "List contributors",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []domain.Contributor `json:"body"`
	}, error) {
		items, err := e.Repo.ListContributors(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Contributor `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contributor",
		Method:      http.MethodGet,
		Path:        "/contributors/{contributor_id}",
		Summary:     "Get contributor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContributorID string `path:"contributor_id"`
	}) (*struct {
		Body domain.Contributor `json:"body"`
	}, error) {
		c, err := e.Repo.GetContributor(ctx, input.ContributorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contributor `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contributor-stats",
		Method:      http.MethodGet,
		Path:        "/contributors/{address}/stats",
		Summary:     "Contributor statistics",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body domain.ContributorStats `json:"body"`
	}, error) {
		stats, err := e.Repo.ContributorStats(ctx, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ContributorStats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerRewards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "estimate-reward",
		Method:      http.MethodGet,
		Path:        "/rewards/estimate",
		Summary:     "Estimate a reward amount",
	}, func(ctx context.Context, input *struct {
		Quality float64 `query:"quality" minimum:"0" maximum:"100"`
		Type    string  `query:"type" default:"other"`
		Bonus   float64 `query:"bonus" minimum:"0" maximum:"1"`
	}) (*struct {
		Body RewardEstimateResponse `json:"body"`
	}, error) {
		return &struct {
			Body RewardEstimateResponse `json:"body"`
		}{Body: RewardEstimateResponse{
			QualityScore:    input.Quality,
			Type:            input.Type,
			ReputationBonus: input.Bonus,
			Amount:          e.Reward.Amount(input.Quality, input.Type, input.Bonus),
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
