package segment

import "image"

// Label 像素的四种标记，取值和 GrabCut 掩码约定一致
type Label uint8

const (
	Background         Label = 0
	Foreground         Label = 1
	ProbableBackground Label = 2
	ProbableForeground Label = 3
)

func (l Label) String() string {
	switch l {
	case Background:
		return "background"
	case Foreground:
		return "foreground"
	case ProbableBackground:
		return "probable-background"
	case ProbableForeground:
		return "probable-foreground"
	}
	return "unknown"
}

// IsForeground 折叠规则：definite/probable 前景都算前景
func (l Label) IsForeground() bool {
	return l == Foreground || l == ProbableForeground
}

// IsDefinite definite 标记在迭代过程中不可改变
func (l Label) IsDefinite() bool {
	return l == Background || l == Foreground
}

// LabelGrid 按行存储的标记网格
type LabelGrid struct {
	Width  int
	Height int
	Labels []Label
}

// NewLabelGrid 创建全部为 Background 的网格
func NewLabelGrid(width, height int) *LabelGrid {
	return &LabelGrid{
		Width:  width,
		Height: height,
		Labels: make([]Label, width*height),
	}
}

// InitFromRect 矩形外为 Background，矩形内为 ProbableForeground。
// rect 使用网格坐标 (0,0)-(Width,Height)。
func (g *LabelGrid) InitFromRect(rect image.Rectangle) {
	for y := 0; y < g.Height; y++ {
		row := y * g.Width
		for x := 0; x < g.Width; x++ {
			if (image.Point{X: x, Y: y}).In(rect) {
				g.Labels[row+x] = ProbableForeground
			} else {
				g.Labels[row+x] = Background
			}
		}
	}
}

func (g *LabelGrid) At(x, y int) Label {
	return g.Labels[y*g.Width+x]
}

func (g *LabelGrid) Set(x, y int, l Label) {
	g.Labels[y*g.Width+x] = l
}

// Binary 折叠为前景/背景二值划分
func (g *LabelGrid) Binary() []bool {
	out := make([]bool, len(g.Labels))
	for i, l := range g.Labels {
		out[i] = l.IsForeground()
	}
	return out
}

// Counts 返回前景、背景像素数
func (g *LabelGrid) Counts() (fg, bg int) {
	for _, l := range g.Labels {
		if l.IsForeground() {
			fg++
		} else {
			bg++
		}
	}
	return fg, bg
}
