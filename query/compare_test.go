package query

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/reorm/store"
)

func TestNewCompare(t *testing.T) {
	Convey("NewCompare", t, func() {
		Convey("构造时校验操作数类型", func() {
			_, err := NewCompare("score", OpLt, map[string]any{}, CombinatorAnd)
			So(errors.Is(err, ErrNonComparableValue), ShouldBeTrue)

			_, err = NewCompare("name", OpLike, 42, CombinatorAnd)
			So(errors.Is(err, ErrNonStringPattern), ShouldBeTrue)

			_, err = NewCompare("score", OpIn, 42, CombinatorAnd)
			So(errors.Is(err, ErrNonArrayValue), ShouldBeTrue)

			_, err = NewCompare("score", OpBetween, []any{1}, CombinatorAnd)
			So(errors.Is(err, ErrNonArrayValue), ShouldBeTrue)

			_, err = NewCompare("score", Operator("weird"), 1, CombinatorAnd)
			So(errors.Is(err, ErrInvalidOperator), ShouldBeTrue)
		})
	})
}

func TestCompareMatch(t *testing.T) {
	Convey("Compare.Match", t, func() {
		fields := map[string]any{"name": "Rec2", "score": int64(2), "tag": nil}

		match := func(field string, op Operator, value any) bool {
			c, err := NewCompare(field, op, value, CombinatorAnd)
			So(err, ShouldBeNil)
			return c.Match(fields)
		}

		Convey("相等与不等", func() {
			So(match("score", OpEq, 2), ShouldBeTrue)
			So(match("score", OpEq, 2.0), ShouldBeTrue)
			So(match("score", OpEq, 3), ShouldBeFalse)
			So(match("score", OpNe, 3), ShouldBeTrue)
		})

		Convey("排序比较跨数值类型", func() {
			So(match("score", OpLt, 3), ShouldBeTrue)
			So(match("score", OpLte, 2.0), ShouldBeTrue)
			So(match("score", OpGt, 1), ShouldBeTrue)
			So(match("score", OpGte, 2), ShouldBeTrue)
			So(match("score", OpGt, 2), ShouldBeFalse)
		})

		Convey("类型不可比时排序比较不命中", func() {
			So(match("name", OpLt, 42), ShouldBeFalse)
			So(match("name", OpGte, 42), ShouldBeFalse)
		})

		Convey("集合成员与区间", func() {
			So(match("score", OpIn, []any{1, 2}), ShouldBeTrue)
			So(match("score", OpNotIn, []any{2, 4}), ShouldBeFalse)
			So(match("score", OpBetween, []any{2, 3}), ShouldBeTrue)
			So(match("score", OpBetween, []any{3, 4}), ShouldBeFalse)
			So(match("score", OpNotBetween, []any{3, 4}), ShouldBeTrue)
		})

		Convey("通配符模式", func() {
			So(match("name", OpLike, "%2"), ShouldBeTrue)
			So(match("name", OpLike, "%1"), ShouldBeFalse)
			So(match("name", OpLike, "Rec_"), ShouldBeTrue)
			So(match("name", OpILike, "rec%"), ShouldBeTrue)
			So(match("name", OpLike, "rec%"), ShouldBeFalse)
		})

		Convey("存在性", func() {
			So(match("name", OpExists, nil), ShouldBeTrue)
			So(match("tag", OpExists, nil), ShouldBeFalse)
			So(match("tag", OpNotExists, nil), ShouldBeTrue)
			So(match("missing", OpNotExists, nil), ShouldBeTrue)
		})
	})
}

func TestCompareNegate(t *testing.T) {
	Convey("Compare.Negate", t, func() {
		fields := map[string]any{"name": "Rec1", "score": int64(2)}

		Convey("存在精确逆操作的操作符做操作符取反", func() {
			c, err := NewCompare("score", OpLt, 2, CombinatorAnd)
			So(err, ShouldBeNil)
			negated := c.Negate()
			So(negated.Op, ShouldEqual, OpGte)
			So(negated.Match(fields), ShouldBeTrue)
		})

		Convey("模式匹配做字面取反", func() {
			c, err := NewCompare("name", OpLike, "%1", CombinatorAnd)
			So(err, ShouldBeNil)
			negated := c.Negate()
			So(negated.Op, ShouldEqual, OpLike)
			So(negated.Match(fields), ShouldBeFalse)
			So(negated.Negate().Match(fields), ShouldBeTrue)
		})
	})
}

func TestCompareIndex(t *testing.T) {
	Convey("Compare.Index", t, func() {
		Convey("可索引操作符给出索引描述", func() {
			c, _ := NewCompare("score", OpGte, 2, CombinatorAnd)
			descriptor := c.Index()
			So(descriptor, ShouldNotBeNil)
			So(descriptor.Kind, ShouldEqual, store.IndexAboveOrEqual)

			c, _ = NewCompare("score", OpBetween, []any{2, 3}, CombinatorAnd)
			So(c.Index().Kind, ShouldEqual, store.IndexBetween)

			c, _ = NewCompare("at", OpLt, time.Now(), CombinatorAnd)
			So(c.Index().Kind, ShouldEqual, store.IndexBelow)
		})

		Convey("模式与存在性操作符不走索引", func() {
			c, _ := NewCompare("name", OpLike, "%1", CombinatorAnd)
			So(c.Index(), ShouldBeNil)

			c, _ = NewCompare("name", OpExists, nil, CombinatorAnd)
			So(c.Index(), ShouldBeNil)
		})

		Convey("非索引安全操作数不走索引", func() {
			c, _ := NewCompare("tags", OpEq, map[string]any{"a": 1}, CombinatorAnd)
			So(c.Index(), ShouldBeNil)
		})

		Convey("字面取反后不走索引", func() {
			c, _ := NewCompare("name", OpLike, "%1", CombinatorAnd)
			So(c.Negate().Index(), ShouldBeNil)
		})
	})
}

func TestGroup(t *testing.T) {
	Convey("Group", t, func() {
		eq := func(field string, value any, combinator Combinator) *Compare {
			c, err := NewCompare(field, OpEq, value, combinator)
			So(err, ShouldBeNil)
			return c
		}

		Convey("同层混用 and/or 返回错误", func() {
			_, err := NewGroup(CombinatorAnd,
				eq("a", 1, CombinatorAnd),
				eq("b", 2, CombinatorOr),
				eq("c", 3, CombinatorAnd),
			)
			So(errors.Is(err, ErrMixedCombinator), ShouldBeTrue)
		})

		Convey("or 分组按声明顺序折叠", func() {
			g, err := NewGroup(CombinatorAnd,
				eq("a", 1, CombinatorAnd),
				eq("b", 2, CombinatorOr),
			)
			So(err, ShouldBeNil)
			So(g.Match(map[string]any{"a": 1, "b": 9}), ShouldBeTrue)
			So(g.Match(map[string]any{"a": 9, "b": 2}), ShouldBeTrue)
			So(g.Match(map[string]any{"a": 9, "b": 9}), ShouldBeFalse)
		})

		Convey("空分组返回错误", func() {
			_, err := NewGroup(CombinatorAnd)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestOrderValues(t *testing.T) {
	Convey("OrderValues", t, func() {
		Convey("空值排在最前", func() {
			So(OrderValues(nil, 1), ShouldEqual, -1)
			So(OrderValues(1, nil), ShouldEqual, 1)
			So(OrderValues(nil, nil), ShouldEqual, 0)
		})

		Convey("同类值按逻辑序", func() {
			So(OrderValues(1, 2.5), ShouldEqual, -1)
			So(OrderValues("b", "a"), ShouldEqual, 1)
			So(OrderValues(time.Unix(1, 0), time.Unix(2, 0)), ShouldEqual, -1)
		})

		Convey("类型不可比返回 0", func() {
			So(OrderValues("a", 1), ShouldEqual, 0)
		})
	})
}
