package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func testSpecs() []CollectionSpec {
	return []CollectionSpec{
		{Name: "players", PrimaryKey: "id", Indexes: []string{"score", "name"}},
		{Name: "items", PrimaryKey: "id"},
	}
}

func openTestStore(t *testing.T, driver string) Store {
	var s Store
	var err error
	switch driver {
	case "mem":
		s, err = NewMemStoreWithOptions(&MemStoreOptions{Collections: testSpecs()})
	case "bolt":
		s, err = NewBoltStoreWithOptions(&BoltStoreOptions{
			DBPath:      filepath.Join(t.TempDir(), "store.db"),
			Collections: testSpecs(),
		})
	}
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func seedPlayers(t *testing.T, c Collection) {
	ctx := context.Background()
	rows := []Row{
		{Key: "p1", Fields: map[string]any{"id": "p1", "name": "Rec1", "score": int64(1)}},
		{Key: "p2", Fields: map[string]any{"id": "p2", "name": "Rec2", "score": int64(2)}},
		{Key: "p3", Fields: map[string]any{"id": "p3", "name": "Rec3", "score": int64(3)}},
		{Key: "p4", Fields: map[string]any{"id": "p4", "name": "Rec4", "score": int64(4)}},
	}
	for _, row := range rows {
		if err := c.Add(ctx, row); err != nil {
			t.Fatal(err)
		}
	}
}

func rowKeys(rows []Row) []string {
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.Key)
	}
	return keys
}

func TestCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"mem", "bolt"} {
		Convey("Collection CRUD ("+driver+")", t, func() {
			s := openTestStore(t, driver)
			defer s.Close()

			c, err := s.Collection("players")
			So(err, ShouldBeNil)

			Convey("未声明的集合返回错误", func() {
				_, err := s.Collection("ghosts")
				So(errors.Is(err, ErrCollectionNotFound), ShouldBeTrue)
			})

			Convey("Add 后可读回", func() {
				err := c.Add(ctx, Row{Key: "p1", Fields: map[string]any{"id": "p1", "score": int64(1)}})
				So(err, ShouldBeNil)

				row, err := c.Get(ctx, "p1")
				So(err, ShouldBeNil)
				So(row.Fields["score"], ShouldEqual, int64(1))

				Convey("重复 Add 返回 ErrKeyExists", func() {
					err := c.Add(ctx, Row{Key: "p1", Fields: map[string]any{"id": "p1"}})
					So(errors.Is(err, ErrKeyExists), ShouldBeTrue)
				})

				Convey("Put 覆盖已有行", func() {
					err := c.Put(ctx, Row{Key: "p1", Fields: map[string]any{"id": "p1", "score": int64(9)}})
					So(err, ShouldBeNil)
					row, err := c.Get(ctx, "p1")
					So(err, ShouldBeNil)
					So(row.Fields["score"], ShouldEqual, int64(9))
				})

				Convey("Delete 后读取返回 ErrKeyNotFound", func() {
					So(c.Delete(ctx, "p1"), ShouldBeNil)
					_, err := c.Get(ctx, "p1")
					So(errors.Is(err, ErrKeyNotFound), ShouldBeTrue)
				})

				Convey("删除不存在的键也返回成功", func() {
					So(c.Delete(ctx, "ghost"), ShouldBeNil)
				})
			})

			Convey("Clear 清空集合", func() {
				seedPlayers(t, c)
				So(c.Clear(ctx), ShouldBeNil)
				n, err := c.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
			})
		})
	}
}

func TestCollectionScan(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"mem", "bolt"} {
		Convey("Collection Scan ("+driver+")", t, func() {
			s := openTestStore(t, driver)
			defer s.Close()

			c, err := s.Collection("players")
			So(err, ShouldBeNil)
			seedPlayers(t, c)

			Convey("自然序为主键字节序", func() {
				rows, err := c.Scan(ctx)
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p2", "p3", "p4"})
			})

			Convey("过滤、偏移与截断", func() {
				rows, err := c.Scan(ctx,
					WithFilter(func(row Row) bool { return row.Fields["score"].(int64) >= 2 }),
					WithOffset(1), WithLimit(1))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p3"})
			})

			Convey("逆序扫描", func() {
				rows, err := c.Scan(ctx, WithReverse(), WithLimit(2))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p4", "p3"})
			})

			Convey("First 与 Last", func() {
				first, found, err := c.First(ctx)
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(first.Key, ShouldEqual, "p1")

				last, found, err := c.Last(ctx)
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(last.Key, ShouldEqual, "p4")
			})

			Convey("Count", func() {
				n, err := c.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 4)
			})
		})
	}
}

func TestCollectionScanIndex(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"mem", "bolt"} {
		Convey("Collection ScanIndex ("+driver+")", t, func() {
			s := openTestStore(t, driver)
			defer s.Close()

			c, err := s.Collection("players")
			So(err, ShouldBeNil)
			seedPlayers(t, c)

			Convey("equals", func() {
				rows, err := c.ScanIndex(ctx, "score", IndexEquals, int64(2))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p2"})
			})

			Convey("notEqual", func() {
				rows, err := c.ScanIndex(ctx, "score", IndexNotEqual, int64(2))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p3", "p4"})
			})

			Convey("below 与 aboveOrEqual", func() {
				rows, err := c.ScanIndex(ctx, "score", IndexBelow, int64(3))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p2"})

				rows, err = c.ScanIndex(ctx, "score", IndexAboveOrEqual, int64(3))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p3", "p4"})
			})

			Convey("between 为闭区间", func() {
				rows, err := c.ScanIndex(ctx, "score", IndexBetween, []any{int64(2), int64(3)})
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p2", "p3"})
			})

			Convey("anyOf 与 noneOf", func() {
				rows, err := c.ScanIndex(ctx, "score", IndexAnyOf, []any{int64(1), int64(4)})
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p4"})

				rows, err = c.ScanIndex(ctx, "score", IndexNoneOf, []any{int64(2), int64(4)})
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p3"})
			})

			Convey("整数写入浮点数查询命中同一索引键", func() {
				rows, err := c.ScanIndex(ctx, "score", IndexEquals, 2.0)
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p2"})
			})

			Convey("未建索引的字段返回 ErrFieldNotIndexed", func() {
				_, err := c.ScanIndex(ctx, "nickname", IndexEquals, "x")
				So(errors.Is(err, ErrFieldNotIndexed), ShouldBeTrue)
			})

			Convey("OrderedScan 按值序返回", func() {
				rows, err := c.OrderedScan(ctx, "name", false)
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p2", "p3", "p4"})

				rows, err = c.OrderedScan(ctx, "score", true, WithLimit(2))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p4", "p3"})
			})

			Convey("缺失索引字段的行不命中排序类比较", func() {
				err := c.Add(ctx, Row{Key: "p5", Fields: map[string]any{"id": "p5", "name": "Rec5"}})
				So(err, ShouldBeNil)

				rows, err := c.ScanIndex(ctx, "score", IndexBelow, int64(3))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p2"})

				rows, err = c.ScanIndex(ctx, "score", IndexBelowOrEqual, int64(4))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p2", "p3", "p4"})

				rows, err = c.ScanIndex(ctx, "score", IndexBetween, []any{int64(1), int64(4)})
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1", "p2", "p3", "p4"})

				// 等值类比较不受影响，空值条目按索引序排在最前
				rows, err = c.ScanIndex(ctx, "score", IndexNotEqual, int64(2))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p5", "p1", "p3", "p4"})
			})

			Convey("行更新后索引同步", func() {
				err := c.Put(ctx, Row{Key: "p1", Fields: map[string]any{"id": "p1", "name": "Rec1", "score": int64(10)}})
				So(err, ShouldBeNil)

				rows, err := c.ScanIndex(ctx, "score", IndexEquals, int64(1))
				So(err, ShouldBeNil)
				So(rows, ShouldBeEmpty)

				rows, err = c.ScanIndex(ctx, "score", IndexEquals, int64(10))
				So(err, ShouldBeNil)
				So(rowKeys(rows), ShouldResemble, []string{"p1"})
			})
		})
	}
}
