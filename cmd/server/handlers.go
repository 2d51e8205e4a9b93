package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	"github.com/yourorg/payment-confirmation/internal/apperr"
	"github.com/yourorg/payment-confirmation/internal/circuitbreaker"
	"github.com/yourorg/payment-confirmation/internal/monitor"
	"github.com/yourorg/payment-confirmation/internal/orchestrator"
	"github.com/yourorg/payment-confirmation/internal/poller"
	"github.com/yourorg/payment-confirmation/internal/presenter"
	"github.com/yourorg/payment-confirmation/internal/reporting"
)

const serviceName = "payment-confirmation"

// paymentBody is the JSON accepted by POST /payments.
type paymentBody struct {
	Amount          int64                  `json:"amount"`
	PhoneNumber     string                 `json:"phoneNumber"`
	Provider        string                 `json:"provider"`
	TransactionType string                 `json:"transactionType"`
	Description     string                 `json:"description"`
	PropertyID      string                 `json:"propertyId"`
	AuthCode        string                 `json:"authCode"`
	Metadata        map[string]interface{} `json:"metadata"`
}

func (b paymentBody) request() orchestrator.PaymentRequest {
	return orchestrator.PaymentRequest{
		Amount:          b.Amount,
		PhoneNumber:     b.PhoneNumber,
		Provider:        adapter.Provider(b.Provider),
		TransactionType: adapter.TransactionType(b.TransactionType),
		Description:     b.Description,
		CorrelationID:   b.PropertyID,
		AuthCode:        b.AuthCode,
		Metadata:        b.Metadata,
	}
}

type sessionResponse struct {
	SessionID       string         `json:"sessionId"`
	Amount          int64          `json:"amount"`
	Provider        string         `json:"provider"`
	TransactionType string         `json:"transactionType"`
	Polled          bool           `json:"polled"`
	State           poller.State   `json:"state"`
	View            presenter.View `json:"view"`
}

func newSessionResponse(s *orchestrator.Session) sessionResponse {
	return sessionResponse{
		SessionID:       s.ID,
		Amount:          s.Amount,
		Provider:        string(s.Provider),
		TransactionType: string(s.TransactionType),
		Polled:          s.Polled(),
		State:           s.State(),
		View:            s.View(),
	}
}

// server holds the dependencies of the HTTP handlers.
type server struct {
	orch        *orchestrator.Orchestrator
	monitor     *monitor.ContractMonitor
	breaker     *circuitbreaker.CircuitBreaker
	reporter    *reporting.RetrospectiveReporter
	gatewayName string
}

func newServer(orch *orchestrator.Orchestrator, mon *monitor.ContractMonitor, cb *circuitbreaker.CircuitBreaker, gatewayName string) *server {
	return &server{
		orch:        orch,
		monitor:     mon,
		breaker:     cb,
		reporter:    reporting.NewRetrospectiveReporter(),
		gatewayName: gatewayName,
	}
}

func setupRouter(s *server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), otelgin.Middleware(serviceName))

	router.POST("/payments", s.createPayment)
	router.GET("/payments", s.listPayments)
	router.GET("/payments/:id", s.getPayment)
	router.DELETE("/payments/:id", s.cancelPayment)
	router.GET("/reports/retrospective", s.retrospective)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", s.healthz)
	return router
}

func writeError(c *gin.Context, err error, details ...string) {
	body := gin.H{"kind": apperr.Kind(err), "message": err.Error()}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": body})
}

func (s *server) createPayment(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, apperr.ErrInvalidBody)
		return
	}
	if !json.Valid(raw) {
		writeError(c, apperr.ErrInvalidBody, "body is not valid JSON")
		return
	}
	valid, violations, err := s.monitor.Validate(raw)
	if err != nil {
		log.Printf("Server: contract validation failed: %v", err)
		writeError(c, apperr.ErrInvalidBody)
		return
	}
	if !valid {
		writeError(c, apperr.ErrInvalidBody, violations...)
		return
	}

	var body paymentBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(c, apperr.ErrInvalidBody, err.Error())
		return
	}

	session, err := s.orch.Pay(c.Request.Context(), body.request(), orchestrator.Callbacks{
		OnSuccess: func(id string) { log.Printf("Server: payment %s confirmed", id) },
		OnFailure: func(msg string) { log.Printf("Server: payment failed: %s", msg) },
	})
	if err != nil {
		writeError(c, err)
		return
	}

	code := http.StatusOK
	if session.Polled() {
		code = http.StatusAccepted
	}
	c.JSON(code, newSessionResponse(session))
}

func (s *server) listPayments(c *gin.Context) {
	active := s.orch.Active()
	out := make([]sessionResponse, 0, len(active))
	for _, session := range active {
		out = append(out, newSessionResponse(session))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *server) getPayment(c *gin.Context) {
	session, err := s.orch.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (s *server) cancelPayment(c *gin.Context) {
	id := c.Param("id")
	if err := s.orch.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	session, err := s.orch.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (s *server) retrospective(c *gin.Context) {
	report, err := s.reporter.GenerateRetrospective(s.orch.Outcomes())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"gateway":        s.gatewayName,
		"activeSessions": len(s.orch.Active()),
		"providers":      s.breaker.Providers(string(adapter.ProviderA), string(adapter.ProviderB)),
	})
}
