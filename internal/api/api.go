package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"magpie/internal/analytics"
	"magpie/internal/scheduler"
	"magpie/internal/store"
	"magpie/internal/timer"
)

// Server exposes manual triggers, schedule management, and status over HTTP.
type Server struct {
	echo  *echo.Echo
	svc   *scheduler.Service
	db    *store.DB
	timer *timer.Timer
}

// actionResult is the shape every trigger endpoint returns.
type actionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func New(svc *scheduler.Service, db *store.DB, tm *timer.Timer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, svc: svc, db: db, timer: tm}

	api := e.Group("/api")
	api.POST("/actions/post", s.trigger(func(ctx context.Context, now time.Time) (string, error) {
		return svc.RunPostTick(ctx, now, "")
	}))
	api.POST("/actions/engage", s.trigger(svc.RunEngagementTick))
	api.POST("/actions/mentions", s.trigger(svc.RunMentionTick))
	api.POST("/actions/follow", s.trigger(svc.RunFollowTick))
	api.POST("/actions/metrics", s.trigger(svc.RunMetricsTick))

	api.GET("/schedules", s.listSchedules)
	api.POST("/schedules", s.putSchedule)
	api.GET("/schedules/:id", s.getSchedule)
	api.PUT("/schedules/:id", s.putScheduleByID)
	api.DELETE("/schedules/:id", s.deleteSchedule)
	api.POST("/schedules/:id/activate", s.setActive(true))
	api.POST("/schedules/:id/deactivate", s.setActive(false))

	api.GET("/status", s.status)
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return s
}

func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) trigger(run func(ctx context.Context, now time.Time) (string, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		msg, err := run(c.Request().Context(), time.Now().UTC())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, actionResult{Success: false, Message: err.Error()})
		}
		return c.JSON(http.StatusOK, actionResult{Success: true, Message: msg})
	}
}

func (s *Server) listSchedules(c echo.Context) error {
	scheds, err := s.db.ListSchedules(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, actionResult{Message: err.Error()})
	}
	if scheds == nil {
		scheds = []store.Schedule{}
	}
	return c.JSON(http.StatusOK, scheds)
}

func (s *Server) getSchedule(c echo.Context) error {
	sched, err := s.db.GetSchedule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, actionResult{Message: "schedule not found"})
	}
	return c.JSON(http.StatusOK, sched)
}

func (s *Server) putSchedule(c echo.Context) error {
	var sched store.Schedule
	if err := c.Bind(&sched); err != nil {
		return c.JSON(http.StatusBadRequest, actionResult{Message: err.Error()})
	}
	return s.saveSchedule(c, sched)
}

func (s *Server) putScheduleByID(c echo.Context) error {
	var sched store.Schedule
	if err := c.Bind(&sched); err != nil {
		return c.JSON(http.StatusBadRequest, actionResult{Message: err.Error()})
	}
	sched.ID = c.Param("id")
	return s.saveSchedule(c, sched)
}

func (s *Server) saveSchedule(c echo.Context, sched store.Schedule) error {
	if sched.ID == "" {
		return c.JSON(http.StatusBadRequest, actionResult{Message: "schedule id required"})
	}
	if err := timer.Validate(sched.Cron); err != nil {
		return c.JSON(http.StatusBadRequest, actionResult{Message: err.Error()})
	}
	ctx := c.Request().Context()
	if err := s.db.PutSchedule(ctx, sched); err != nil {
		return c.JSON(http.StatusInternalServerError, actionResult{Message: err.Error()})
	}
	if err := s.timer.Reload(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, actionResult{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, actionResult{Success: true, Message: "schedule saved"})
}

func (s *Server) deleteSchedule(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.db.DeleteSchedule(ctx, c.Param("id")); err != nil {
		return c.JSON(http.StatusInternalServerError, actionResult{Message: err.Error()})
	}
	if err := s.timer.Reload(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, actionResult{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, actionResult{Success: true, Message: "schedule deleted"})
}

func (s *Server) setActive(active bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := s.db.SetScheduleActive(ctx, c.Param("id"), active); err != nil {
			return c.JSON(http.StatusInternalServerError, actionResult{Message: err.Error()})
		}
		if err := s.timer.Reload(ctx); err != nil {
			return c.JSON(http.StatusInternalServerError, actionResult{Message: err.Error()})
		}
		msg := "schedule deactivated"
		if active {
			msg = "schedule activated"
		}
		return c.JSON(http.StatusOK, actionResult{Success: true, Message: msg})
	}
}

type statusResponse struct {
	scheduler.Status
	Jobs      []timer.JobInfo `json:"jobs"`
	BestHours []int           `json:"bestPostingHours,omitempty"`
}

func (s *Server) status(c echo.Context) error {
	ctx := c.Request().Context()
	now := time.Now().UTC()
	st := s.svc.Status(ctx, now)
	resp := statusResponse{Status: st, Jobs: s.timer.Jobs()}
	if events, err := analytics.RecentEvents(ctx, s.db, now.AddDate(0, 0, -30), now); err == nil {
		resp.BestHours = analytics.BestPostingHours(events)
	}
	return c.JSON(http.StatusOK, resp)
}
