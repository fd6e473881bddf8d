package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-grad/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads `?ordering=status,-updated_at`. Unknown fields are dropped by the services.
func (ord *Ordering) Bind(ctx echo.Context) {
	if val := ctx.QueryParam(orderingParam); val != "" {
		ord.Orderings = core.ParseOrderings(val)
	}
}
