package query

import (
	"github.com/pkg/errors"
)

// Group 逻辑分组谓词，子节点按声明顺序求值。
// 同一层级内 and/or 不可混用，混用需要显式子分组。
type Group struct {
	Children []Node

	combinator Combinator
}

// NewGroup 构造分组谓词，校验子节点的连接方式不混用
func NewGroup(combinator Combinator, children ...Node) (*Group, error) {
	if len(children) == 0 {
		return nil, errors.New("group requires at least one child")
	}

	// 首个子节点的连接方式无意义，其余子节点必须一致
	if len(children) > 2 {
		for _, child := range children[2:] {
			if child.Combinator() != children[1].Combinator() {
				return nil, errors.WithMessagef(ErrMixedCombinator, "group children mix %s and %s", children[1].Combinator(), child.Combinator())
			}
		}
	}

	return &Group{
		Children:   children,
		combinator: combinator,
	}, nil
}

func (g *Group) Combinator() Combinator {
	return g.combinator
}

func (g *Group) Match(fields map[string]any) bool {
	matched := g.Children[0].Match(fields)
	for _, child := range g.Children[1:] {
		if child.Combinator() == CombinatorOr {
			matched = matched || child.Match(fields)
		} else {
			matched = matched && child.Match(fields)
		}
	}
	return matched
}
