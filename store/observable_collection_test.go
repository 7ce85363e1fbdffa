package store

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestObservableCollection(t *testing.T) {
	Convey("ObservableCollection", t, func() {
		ctx := context.Background()

		memStore, err := NewMemStoreWithOptions(&MemStoreOptions{Collections: []CollectionSpec{
			{Name: "players", PrimaryKey: "id", Indexes: []string{"score"}},
		}})
		So(err, ShouldBeNil)

		inner, err := memStore.Collection("players")
		So(err, ShouldBeNil)

		registry := prometheus.NewRegistry()
		metrics := NewObservableMetrics("reorm_test", registry)
		c := NewObservableCollection(inner, nil, metrics)

		Convey("操作计数按状态区分", func() {
			err := c.Add(ctx, Row{Key: "p1", Fields: map[string]any{"id": "p1", "score": int64(1)}})
			So(err, ShouldBeNil)
			err = c.Add(ctx, Row{Key: "p1", Fields: map[string]any{"id": "p1"}})
			So(err, ShouldNotBeNil)

			success := testutil.ToFloat64(metrics.operationCounter.WithLabelValues("players", "add", "success"))
			failure := testutil.ToFloat64(metrics.operationCounter.WithLabelValues("players", "add", "error"))
			So(success, ShouldEqual, 1)
			So(failure, ShouldEqual, 1)
		})

		Convey("装饰器透传底层结果", func() {
			err := c.Add(ctx, Row{Key: "p2", Fields: map[string]any{"id": "p2", "score": int64(2)}})
			So(err, ShouldBeNil)

			row, err := c.Get(ctx, "p2")
			So(err, ShouldBeNil)
			So(row.Fields["score"], ShouldEqual, int64(2))

			rows, err := c.ScanIndex(ctx, "score", IndexEquals, int64(2))
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 1)

			n, err := c.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})
	})
}
