// Package server exposes the advisory queries over HTTP with Fiber.
package server

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/advisory-index/metrics"
	"github.com/ortelius/advisory-index/model"
	"github.com/ortelius/advisory-index/query"
	"github.com/ortelius/advisory-index/util"
	"go.uber.org/zap"
)

// Response is the body returned for failed requests
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// IndexPage is the body of GET /advisories
type IndexPage struct {
	Latest  *model.Advisory   `json:"latest"`
	TOC     []model.YearGroup `json:"toc"`
	Modules []string          `json:"modules"`
}

// Server holds the dependencies shared by the HTTP handlers.
type Server struct {
	engine  *query.Engine
	schema  graphql.Schema
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a Server. m may be nil.
func New(engine *query.Engine, schema graphql.Schema, m *metrics.Metrics, logger *zap.Logger) *Server {
	return &Server{engine: engine, schema: schema, metrics: m, logger: logger}
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Message: message,
	})
}

func outcome(n int) string {
	if n == 0 {
		return metrics.OutcomeMiss
	}
	return metrics.OutcomeHit
}

// param returns a path parameter with percent-encoding removed.
func param(c *fiber.Ctx, name string) (string, error) {
	return url.PathUnescape(c.Params(name))
}

// ============================================================================
// Health
// ============================================================================

// Health reports liveness and the generation being served
func (s *Server) Health(c *fiber.Ctx) error {
	idx := s.engine.Snapshot()
	return c.JSON(fiber.Map{
		"status":     "healthy",
		"generation": idx.Generation(),
		"advisories": idx.Len(),
		"built_at":   idx.BuiltAt().UTC().Format(time.RFC3339),
	})
}

// ============================================================================
// Advisory pages
// ============================================================================

// GetIndex returns the table of contents and the latest advisory
func (s *Server) GetIndex(c *fiber.Ctx) error {
	page := IndexPage{
		TOC:     s.engine.TableOfContents(),
		Modules: s.engine.Snapshot().Modules(),
	}
	if latest, ok := s.engine.Latest(); ok {
		page.Latest = latest
	}
	s.metrics.ObserveQuery("index", metrics.OutcomeHit)
	return c.JSON(page)
}

// GetAdvisory returns one advisory by id
func (s *Server) GetAdvisory(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		s.metrics.ObserveQuery("get", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, "Invalid advisory id")
	}

	adv, ok := s.engine.Get(id)
	if !ok {
		s.metrics.ObserveQuery("get", metrics.OutcomeMiss)
		return fail(c, fiber.StatusNotFound, "Advisory not found: "+id)
	}
	s.metrics.ObserveQuery("get", metrics.OutcomeHit)
	return c.JSON(adv)
}

// GetModulePage lists a module's advisories, answering 404 for a module
// without any
func (s *Server) GetModulePage(c *fiber.Ctx) error {
	module, err := param(c, "module")
	if err != nil {
		s.metrics.ObserveQuery("list_for_module", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, "Invalid module name")
	}

	advs := s.engine.ListForModule(module)
	s.metrics.ObserveQuery("list_for_module", outcome(len(advs)))
	if len(advs) == 0 {
		return fail(c, fiber.StatusNotFound, "No advisories for module: "+module)
	}
	return c.JSON(advs)
}

// ============================================================================
// API handlers
// ============================================================================

// ListModuleAdvisories lists a module's advisories, newest first. An unknown
// module yields an empty list.
func (s *Server) ListModuleAdvisories(c *fiber.Ctx) error {
	module, err := param(c, "module")
	if err != nil {
		s.metrics.ObserveQuery("list_for_module", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, "Invalid module name")
	}

	advs := s.engine.ListForModule(module)
	s.metrics.ObserveQuery("list_for_module", outcome(len(advs)))
	return c.JSON(advs)
}

// ListModules returns every indexed module with its package URL and
// advisory count
func (s *Server) ListModules(c *fiber.Ctx) error {
	idx := s.engine.Snapshot()
	modules := []*model.ModuleSummary{}
	for _, name := range idx.Modules() {
		summary := model.NewModuleSummary()
		summary.Name = name
		summary.Purl = util.ModulePURL(name)
		summary.Advisories = len(idx.RecordsFor(name))
		modules = append(modules, summary)
	}
	return c.JSON(modules)
}

// CheckVersion returns the advisories affecting one module version. Scoped
// modules may be given either percent-encoded in :module or as :scope/:name.
func (s *Server) CheckVersion(c *fiber.Ctx) error {
	module, err := param(c, "module")
	if err == nil && module == "" {
		var scope, name string
		if scope, err = param(c, "scope"); err == nil {
			name, err = param(c, "name")
			module = scope + "/" + name
		}
	}
	if err != nil {
		s.metrics.ObserveQuery("check_version", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, "Invalid module name")
	}

	version, err := param(c, "version")
	if err != nil {
		s.metrics.ObserveQuery("check_version", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, "Invalid version")
	}

	advs := s.engine.CheckVersion(module, version)
	s.metrics.ObserveQuery("check_version", outcome(len(advs)))
	return c.JSON(advs)
}

// CheckPURL returns the advisories affecting the package URL in ?purl=
func (s *Server) CheckPURL(c *fiber.Ctx) error {
	purl := c.Query("purl")
	if purl == "" {
		s.metrics.ObserveQuery("check_purl", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, "Missing purl query parameter")
	}

	advs, err := s.engine.CheckPURL(purl)
	if err != nil {
		s.metrics.ObserveQuery("check_purl", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	s.metrics.ObserveQuery("check_purl", outcome(len(advs)))
	return c.JSON(advs)
}

// CheckShrinkwrap validates an npm-shrinkwrap.json body
func (s *Server) CheckShrinkwrap(c *fiber.Ctx) error {
	var sw model.Shrinkwrap
	if err := c.BodyParser(&sw); err != nil {
		s.metrics.ObserveQuery("check_shrinkwrap", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, "Invalid shrinkwrap: "+err.Error())
	}

	findings := s.engine.CheckShrinkwrap(sw)
	s.metrics.ObserveQuery("check_shrinkwrap", outcome(len(findings)))
	return c.JSON(findings)
}

// ListAdvisories returns every advisory, or those published at or after
// ?since= (epoch milliseconds)
func (s *Server) ListAdvisories(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Query("since"))
	if raw == "" {
		advs := s.engine.ListAll()
		s.metrics.ObserveQuery("list_all", outcome(len(advs)))
		return c.JSON(advs)
	}

	cutoff, err := query.CutoffFromEpochMillis(raw)
	if err != nil {
		s.metrics.ObserveQuery("list_since", metrics.OutcomeBadInput)
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	advs := s.engine.ListSince(cutoff)
	s.metrics.ObserveQuery("list_since", outcome(len(advs)))
	return c.JSON(advs)
}

// ============================================================================
// GraphQL Handler
// ============================================================================

// GraphQLHandler handles GraphQL requests
func (s *Server) GraphQLHandler(c *fiber.Ctx) error {
	var params struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"errors": []map[string]interface{}{
				{
					"message": "Invalid request body",
				},
			},
		})
	}

	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  params.Query,
		VariableValues: params.Variables,
		OperationName:  params.OperationName,
		Context:        c.UserContext(),
	})

	if len(result.Errors) > 0 {
		s.logger.Debug("GraphQL errors", zap.Any("errors", result.Errors))
	}

	return c.JSON(result)
}

// ============================================================================
// App
// ============================================================================

// App builds the Fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "advisory-index API v1.0",
		BodyLimit:             10 * 1024 * 1024,
		ReadTimeout:           time.Second * 30,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(fiberrecover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	// Health check endpoint
	app.Get("/", s.Health)

	// Advisory pages
	app.Get("/advisories", s.GetIndex)
	app.Get("/advisories/module/:module", s.GetModulePage)
	app.Get("/advisories/:id", s.GetAdvisory)

	// Validation
	app.Post("/validate/shrinkwrap", s.CheckShrinkwrap)
	app.Get("/validate/:module/:version", s.CheckVersion)
	app.Get("/validate/:scope/:name/:version", s.CheckVersion)

	// API routes
	api := app.Group("/api/v1")

	api.Get("/advisories", s.ListAdvisories)
	api.Get("/modules", s.ListModules)
	api.Get("/modules/:module/advisories", s.ListModuleAdvisories)
	api.Get("/validate", s.CheckPURL)
	api.Post("/validate/shrinkwrap", s.CheckShrinkwrap)
	api.Get("/validate/:module/:version", s.CheckVersion)
	api.Get("/validate/:scope/:name/:version", s.CheckVersion)
	api.Post("/graphql", s.GraphQLHandler)

	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	return app
}
