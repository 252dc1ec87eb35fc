package hiot

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hthome/hiot/pkg/log"
)

// energyMetric describes one of the monthly energy endpoints.
type energyMetric struct {
	name    string
	path    string
	listKey string
}

var (
	energyUsage = energyMetric{name: "usage", path: "proxy/ctoc/ems/usage", listKey: "usageList"}
	energyFee   = energyMetric{name: "fee", path: "proxy/ctoc/ems/fee", listKey: "feeList"}
	energyGoal  = energyMetric{name: "goal", path: "proxy/ctoc/ems/usage/goal", listKey: "goalList"}
)

func (c *Client) energyItem(ctx context.Context, metric energyMetric, energyType EnergyType, date string) (map[string]any, error) {
	params := url.Values{}
	params.Set("energyType", string(energyType))
	params.Set("period", "MONTH")
	params.Set("date", date)

	body, err := c.do(ctx, http.MethodGet, metric.path, params, nil, true)
	if err != nil {
		return nil, err
	}
	return extractLatestListItem(body, metric.listKey), nil
}

// EnergyUsage returns the latest monthly usage item for energyType. date is
// formatted as 2006-01-02.
func (c *Client) EnergyUsage(ctx context.Context, energyType EnergyType, date string) (map[string]any, error) {
	return c.energyItem(ctx, energyUsage, energyType, date)
}

// EnergyFee returns the latest monthly fee item for energyType.
func (c *Client) EnergyFee(ctx context.Context, energyType EnergyType, date string) (map[string]any, error) {
	return c.energyItem(ctx, energyFee, energyType, date)
}

// EnergyGoal returns the latest monthly usage goal item for energyType.
func (c *Client) EnergyGoal(ctx context.Context, energyType EnergyType, date string) (map[string]any, error) {
	return c.energyItem(ctx, energyGoal, energyType, date)
}

// AllEnergyData fetches usage, fee and goal for every energy type
// concurrently. A failed fetch is logged and leaves an empty map in its cell;
// the other cells are unaffected.
func (c *Client) AllEnergyData(ctx context.Context, date string) EnergyData {
	var mu sync.Mutex
	data := make(EnergyData, len(EnergyTypes()))
	for _, t := range EnergyTypes() {
		data[t] = EnergyRecord{
			Usage: map[string]any{},
			Fee:   map[string]any{},
			Goal:  map[string]any{},
		}
	}

	var eg errgroup.Group
	for _, metric := range []energyMetric{energyUsage, energyFee, energyGoal} {
		for _, energyType := range EnergyTypes() {
			eg.Go(func() error {
				item, err := c.energyItem(ctx, metric, energyType, date)
				if err != nil {
					log.Ctx(ctx).ErrorContext(
						ctx,
						"failed to fetch energy data",
						slog.String("metric", metric.name),
						slog.String("energyType", string(energyType)),
						slog.Any("error", err),
					)
					c.metrics.EnergyFailure(string(energyType), metric.name)
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				record := data[energyType]
				switch metric.name {
				case energyUsage.name:
					record.Usage = item
				case energyFee.name:
					record.Fee = item
				case energyGoal.name:
					record.Goal = item
				}
				data[energyType] = record
				return nil
			})
		}
	}
	// cells never fail the group
	_ = eg.Wait()

	return data
}
