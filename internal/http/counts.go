package http

import (
	"net/http"
	"strconv"

	"github.com/fyrsmithlabs/roomsync/internal/scoreboard"
	"github.com/labstack/echo/v4"
)

// defaultVacancyDays is the min_days used when the query omits it.
const defaultVacancyDays = 1

func (s *Server) handleCounters(c echo.Context) error {
	return c.JSON(http.StatusOK, s.device.Counters())
}

// handleScoreboard credits assignees and sums the workload of the latest
// reports. Both are derived from the local view on every request.
func (s *Server) handleScoreboard(c echo.Context) error {
	r := s.device.Roster()
	return c.JSON(http.StatusOK, ScoreboardResponse{
		Scores:   scoreboard.Scores(r),
		Workload: scoreboard.Summarize(r, s.device.Counters(), s.device.Definition().ProtectedSet()),
	})
}

// handleVacancies lists rooms vacant for at least min_days whole days.
func (s *Server) handleVacancies(c echo.Context) error {
	minDays := defaultVacancyDays
	if v := c.QueryParam("min_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "min_days must be a non-negative number")
		}
		minDays = n
	}
	vacancies := scoreboard.Vacancies(s.device.Roster(), minDays, s.now())
	if vacancies == nil {
		vacancies = []scoreboard.Vacancy{}
	}
	return c.JSON(http.StatusOK, VacanciesResponse{MinDays: minDays, Vacancies: vacancies})
}
