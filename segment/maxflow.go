package segment

import (
	"context"
	"image"
	"math"

	"github.com/chaos-io/cutout/errs"
)

// 邻域方向：前 4 个构成 4 邻域，后 4 个是对角线
var offsets = [8]image.Point{
	{X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}, {X: 0, Y: -1},
	{X: 1, Y: 1}, {X: -1, Y: 1}, {X: -1, Y: -1}, {X: 1, Y: -1},
}

func opposite(d int) int {
	if d < 4 {
		return (d + 2) & 3
	}
	return 4 + ((d + 2) & 3)
}

const (
	free uint8 = iota
	sourceTree
	sinkTree
)

const (
	parentNone     int8 = -1
	parentTerminal int8 = -2
	parentOrphan   int8 = -3
)

// gridGraph 网格上的隐式流网络，使用 Boykov-Kolmogorov 算法求最大流。
// 源点代表前景，汇点代表背景。
//
// cap[p*k+d] 是 p 指向第 d 个邻居的残量；term[p] > 0 表示源点到 p 的残量，
// term[p] < 0 表示 p 到汇点的残量。
type gridGraph struct {
	width, height, k int

	cap  []float64
	term []float64
	flow float64

	tree   []uint8
	parent []int8 // 指向父节点的方向，或 parent* 常量
	ts     []int32
	dist   []int32

	active   []int32
	head     int
	inActive []bool
	orphans  []int32
}

func newGridGraph(width, height, k int) *gridGraph {
	n := width * height
	return &gridGraph{
		width:    width,
		height:   height,
		k:        k,
		cap:      make([]float64, n*k),
		term:     make([]float64, n),
		tree:     make([]uint8, n),
		parent:   make([]int8, n),
		ts:       make([]int32, n),
		dist:     make([]int32, n),
		inActive: make([]bool, n),
	}
}

// reset 用本轮的数据项和平滑项重建容量。
// fgCost 是标为前景的代价（割断 p→汇点），bgCost 是标为背景的代价（割断源点→p）。
func (g *gridGraph) reset(fgCost, bgCost []float64, sm *smoothness) error {
	copy(g.cap, sm.w)
	for i, w := range g.cap {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return errs.SolverDivergence("edge %d/%d has capacity %v", i/g.k, i%g.k, w)
		}
	}

	g.flow = 0
	for p := range g.term {
		f, b := fgCost[p], bgCost[p]
		if f < 0 || b < 0 || math.IsNaN(f) || math.IsNaN(b) || math.IsInf(f, 0) || math.IsInf(b, 0) {
			return errs.SolverDivergence("pixel %d has terminal costs fg=%v bg=%v", p, f, b)
		}
		g.term[p] = b - f
		g.flow += math.Min(f, b)
	}

	g.active = g.active[:0]
	g.head = 0
	g.orphans = g.orphans[:0]
	for p := range g.term {
		g.ts[p] = 0
		g.dist[p] = 0
		g.inActive[p] = false
		switch {
		case g.term[p] > 0:
			g.tree[p] = sourceTree
			g.parent[p] = parentTerminal
			g.dist[p] = 1
			g.push(p)
		case g.term[p] < 0:
			g.tree[p] = sinkTree
			g.parent[p] = parentTerminal
			g.dist[p] = 1
			g.push(p)
		default:
			g.tree[p] = free
			g.parent[p] = parentNone
		}
	}
	return nil
}

func (g *gridGraph) neighbor(p, d int) (int, bool) {
	o := offsets[d]
	x, y := p%g.width+o.X, p/g.width+o.Y
	if x < 0 || y < 0 || x >= g.width || y >= g.height {
		return 0, false
	}
	return y*g.width + x, true
}

// step 沿方向 d 走一步，调用方保证邻居存在
func (g *gridGraph) step(p, d int) int {
	o := offsets[d]
	return p + o.Y*g.width + o.X
}

func (g *gridGraph) push(p int) {
	if g.inActive[p] {
		return
	}
	if g.head > 4096 && g.head*2 > len(g.active) {
		n := copy(g.active, g.active[g.head:])
		g.active = g.active[:n]
		g.head = 0
	}
	g.inActive[p] = true
	g.active = append(g.active, int32(p))
}

func (g *gridGraph) pop() {
	g.inActive[g.active[g.head]] = false
	g.head++
	if g.head == len(g.active) {
		g.active = g.active[:0]
		g.head = 0
	}
}

func (g *gridGraph) orphan(p int) {
	g.parent[p] = parentOrphan
	g.orphans = append(g.orphans, int32(p))
}

// maxFlow 返回最大流值，结束后 inSource 给出最小割的源点一侧
func (g *gridGraph) maxFlow(ctx context.Context) (float64, error) {
	var now int32
	for iter := 0; ; iter++ {
		if iter&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		a, d, ok := g.grow()
		if !ok {
			break
		}
		now++
		g.augment(a, d)
		g.adopt(now)
	}
	return g.flow, nil
}

func (g *gridGraph) inSource(p int) bool {
	return g.tree[p] == sourceTree
}

// grow 扩展两棵搜索树，找到连接源树和汇树的边 a→step(a,d) 时返回
func (g *gridGraph) grow() (int, int, bool) {
	k := g.k
	for g.head < len(g.active) {
		v := int(g.active[g.head])
		if t := g.tree[v]; t != free {
			for d := 0; d < k; d++ {
				u, ok := g.neighbor(v, d)
				if !ok {
					continue
				}
				var residual float64
				if t == sourceTree {
					residual = g.cap[v*k+d]
				} else {
					residual = g.cap[u*k+opposite(d)]
				}
				if residual <= 0 {
					continue
				}
				switch {
				case g.tree[u] == free:
					g.tree[u] = t
					g.parent[u] = int8(opposite(d))
					g.ts[u] = g.ts[v]
					g.dist[u] = g.dist[v] + 1
					g.push(u)
				case g.tree[u] != t:
					if t == sourceTree {
						return v, d, true
					}
					return u, opposite(d), true
				case g.dist[u] > g.dist[v]+1 && g.ts[u] <= g.ts[v]:
					g.parent[u] = int8(opposite(d))
					g.ts[u] = g.ts[v]
					g.dist[u] = g.dist[v] + 1
				}
			}
		}
		g.pop()
	}
	return 0, 0, false
}

// augment 沿 源点→…→a→b→…→汇点 推送瓶颈流量，饱和边的子节点成为孤儿
func (g *gridGraph) augment(a, d int) {
	k := g.k
	b := g.step(a, d)

	bottleneck := g.cap[a*k+d]
	for v := a; ; {
		pd := g.parent[v]
		if pd == parentTerminal {
			bottleneck = math.Min(bottleneck, g.term[v])
			break
		}
		pv := g.step(v, int(pd))
		bottleneck = math.Min(bottleneck, g.cap[pv*k+opposite(int(pd))])
		v = pv
	}
	for v := b; ; {
		pd := g.parent[v]
		if pd == parentTerminal {
			bottleneck = math.Min(bottleneck, -g.term[v])
			break
		}
		bottleneck = math.Min(bottleneck, g.cap[v*k+int(pd)])
		v = g.step(v, int(pd))
	}

	g.cap[a*k+d] -= bottleneck
	g.cap[b*k+opposite(d)] += bottleneck

	for v := a; ; {
		pd := g.parent[v]
		if pd == parentTerminal {
			g.term[v] -= bottleneck
			if g.term[v] <= 0 {
				g.orphan(v)
			}
			break
		}
		pv := g.step(v, int(pd))
		e := pv*k + opposite(int(pd))
		g.cap[e] -= bottleneck
		g.cap[v*k+int(pd)] += bottleneck
		if g.cap[e] <= 0 {
			g.orphan(v)
		}
		v = pv
	}
	for v := b; ; {
		pd := g.parent[v]
		if pd == parentTerminal {
			g.term[v] += bottleneck
			if g.term[v] >= 0 {
				g.orphan(v)
			}
			break
		}
		pv := g.step(v, int(pd))
		e := v*k + int(pd)
		g.cap[e] -= bottleneck
		g.cap[pv*k+opposite(int(pd))] += bottleneck
		if g.cap[e] <= 0 {
			g.orphan(v)
		}
		v = pv
	}

	g.flow += bottleneck
}

// adopt 给孤儿重新找同一棵树里、能连到终端的父节点，找不到就释放为自由节点
func (g *gridGraph) adopt(now int32) {
	k := g.k
	for len(g.orphans) > 0 {
		v := int(g.orphans[len(g.orphans)-1])
		g.orphans = g.orphans[:len(g.orphans)-1]
		t := g.tree[v]

		bestDist, bestDir := int32(math.MaxInt32), -1
		for d := 0; d < k; d++ {
			u, ok := g.neighbor(v, d)
			if !ok || g.tree[u] != t || g.adoptResidual(v, u, d, t) <= 0 {
				continue
			}

			dist, valid := int32(0), true
			for w := u; ; {
				if g.ts[w] == now {
					dist += g.dist[w]
					break
				}
				pd := g.parent[w]
				dist++
				if pd == parentTerminal {
					g.ts[w] = now
					g.dist[w] = 1
					break
				}
				if pd < 0 {
					valid = false
					break
				}
				w = g.step(w, int(pd))
			}
			if !valid {
				continue
			}

			dist++
			if dist < bestDist {
				bestDist, bestDir = dist, d
			}
			for w := u; g.ts[w] != now; w = g.step(w, int(g.parent[w])) {
				g.ts[w] = now
				dist--
				g.dist[w] = dist
			}
		}

		if bestDir >= 0 {
			g.parent[v] = int8(bestDir)
			g.ts[v] = now
			g.dist[v] = bestDist
			continue
		}

		g.ts[v] = 0
		for d := 0; d < k; d++ {
			u, ok := g.neighbor(v, d)
			if !ok || g.tree[u] != t {
				continue
			}
			if g.adoptResidual(v, u, d, t) > 0 {
				g.push(u)
			}
			if g.parent[u] == int8(opposite(d)) {
				g.orphan(u)
			}
		}
		g.tree[v] = free
		g.parent[v] = parentNone
	}
}

// adoptResidual 孤儿 v 挂到邻居 u 下面所需的残量：源树看 u→v，汇树看 v→u
func (g *gridGraph) adoptResidual(v, u, d int, t uint8) float64 {
	if t == sourceTree {
		return g.cap[u*g.k+opposite(d)]
	}
	return g.cap[v*g.k+d]
}
