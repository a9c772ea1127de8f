package image

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/eth-act/ere/internal/model"
	"github.com/eth-act/ere/internal/runner/runnertest"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestImageBuildsCounted(t *testing.T) {
	builtBefore := counterValue(t, "ere_image_builds_total", map[string]string{"stage": "server", "result": resultBuilt})
	cachedBefore := counterValue(t, "ere_image_builds_total", map[string]string{"stage": "server", "result": resultCached})

	b := newTestBuilder(t, runnertest.New(), Options{})
	ctx := context.Background()
	b.EnsureServerImage(ctx, model.Airbender, model.CPU())
	b.EnsureServerImage(ctx, model.Airbender, model.CPU())

	if got := counterValue(t, "ere_image_builds_total", map[string]string{"stage": "server", "result": resultBuilt}); got != builtBefore+1 {
		t.Errorf("built = %v, want %v", got, builtBefore+1)
	}
	if got := counterValue(t, "ere_image_builds_total", map[string]string{"stage": "server", "result": resultCached}); got != cachedBefore+1 {
		t.Errorf("cached = %v, want %v", got, cachedBefore+1)
	}
}
