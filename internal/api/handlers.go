package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"limitboard/internal/aggregate"
	"limitboard/internal/publish"
	"limitboard/internal/snapshot"
	"limitboard/internal/store"
)

// MarketInfo is one entry of GET /api/markets.
type MarketInfo struct {
	Market string `json:"market"`
	Latest string `json:"latest_ymd,omitempty"`
	Status string `json:"status"`
}

// DatesResponse is returned by GET /api/:market/dates.
type DatesResponse struct {
	Market string   `json:"market"`
	Dates  []string `json:"dates"`
}

// SummaryResponse is the light view of a payload.
type SummaryResponse struct {
	Market        string                `json:"market"`
	Ymd           string                `json:"ymd_effective"`
	Slot          string                `json:"slot"`
	GeneratedAt   string                `json:"generated_at"`
	Stats         aggregate.Stats       `json:"stats"`
	SectorSummary []aggregate.SectorRow `json:"sector_summary"`
	Meta          publish.Meta          `json:"meta"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	g := e.Group("/api")
	g.GET("/markets", s.handleMarkets)
	g.GET("/:market/dates", s.handleDates, s.requireMarket)
	g.GET("/:market/payload", s.handlePayload, s.requireMarket)
	g.GET("/:market/summary", s.handleSummary, s.requireMarket)
	g.GET("/:market/limit-list", s.handleLimitList, s.requireMarket)
	g.POST("/:market/refresh", s.handleRefresh, s.requireMarket)
}

func (s *Server) requireMarket(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.markets[c.Param("market")] {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown market " + c.Param("market")})
		}
		return next(c)
	}
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkets(c echo.Context) error {
	out := make([]MarketInfo, 0, len(s.opts.Markets))
	for _, m := range s.opts.Markets {
		info := MarketInfo{Market: m, Status: s.health.Status(m)}
		if dates, err := s.reader.Dates(m); err == nil && len(dates) > 0 {
			info.Latest = dates[0]
		}
		out = append(out, info)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleDates(c echo.Context) error {
	market := c.Param("market")
	dates, err := s.reader.Dates(market)
	if err != nil {
		s.log.Error("listing dates", "market", market, "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	if dates == nil {
		dates = []string{}
	}
	return c.JSON(http.StatusOK, DatesResponse{Market: market, Dates: dates})
}

func (s *Server) handlePayload(c echo.Context) error {
	p, status, err := s.payload(c)
	if err != nil {
		return c.JSON(status, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleSummary(c echo.Context) error {
	p, status, err := s.payload(c)
	if err != nil {
		return c.JSON(status, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, SummaryResponse{
		Market:        p.Market,
		Ymd:           p.YmdEffective,
		Slot:          p.Slot,
		GeneratedAt:   p.GeneratedAt,
		Stats:         p.Stats,
		SectorSummary: p.SectorSummary,
		Meta:          p.Meta,
	})
}

func (s *Server) handleLimitList(c echo.Context) error {
	p, status, err := s.payload(c)
	if err != nil {
		return c.JSON(status, errorResponse{Error: err.Error()})
	}
	list := p.LimitList
	if sector := c.QueryParam("sector"); sector != "" {
		list = slices.DeleteFunc(slices.Clone(list), func(e aggregate.Entry) bool { return e.Sector != sector })
	}
	if list == nil {
		list = []aggregate.Entry{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleRefresh(c echo.Context) error {
	if s.opts.Trigger == nil {
		return c.JSON(http.StatusNotImplemented, errorResponse{Error: "refresh is not enabled"})
	}
	market := c.Param("market")
	if err := s.opts.Trigger(c.Request().Context(), market); err != nil {
		s.log.Error("refresh failed", "market", market, "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"market": market, "status": "refreshed"})
}

// payload resolves ?ymd= (default latest) and ?slot= (default close, or the
// only slot stored that day) and serves from the cache when possible.
func (s *Server) payload(c echo.Context) (*publish.Payload, int, error) {
	market := c.Param("market")
	ymd := c.QueryParam("ymd")
	if ymd == "" {
		dates, err := s.reader.Dates(market)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		if len(dates) == 0 {
			return nil, http.StatusNotFound, errors.New("no payloads available")
		}
		ymd = dates[0]
	}
	slot := c.QueryParam("slot")
	if slot == "" {
		slot = snapshot.SlotClose
		if slots, err := s.reader.Slots(market, ymd); err == nil && len(slots) > 0 && !slices.Contains(slots, slot) {
			slot = slots[len(slots)-1]
		}
	}

	key := cacheKey(market, ymd, slot)
	if cached, ok := s.cache.Load(key); ok {
		return cached.(*publish.Payload), http.StatusOK, nil
	}
	p, err := s.reader.Read(market, ymd, slot)
	if errors.Is(err, store.ErrNoData) {
		return nil, http.StatusNotFound, errors.New("no payload for " + key)
	}
	if err != nil {
		s.log.Error("reading payload", "key", key, "err", err)
		return nil, http.StatusInternalServerError, err
	}
	s.cache.Store(key, p)
	return p, http.StatusOK, nil
}
