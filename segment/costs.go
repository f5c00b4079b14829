package segment

import "math"

// smoothness 相邻像素之间的平滑项权重 w[p*k+d]，对称存储。
// 权重只和图像有关，与颜色模型无关，所以每张图只计算一次。
type smoothness struct {
	width, height, k int
	beta             float64
	w                []float64
}

func forward(d int) bool {
	o := offsets[d]
	return o.Y > 0 || (o.Y == 0 && o.X > 0)
}

func dist2(a, b Color) float64 {
	d0, d1, d2 := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return d0*d0 + d1*d1 + d2*d2
}

// computeSmoothness w(p,q) = gamma/|p-q| · exp(-beta·|zp-zq|²)，
// beta = 1/(2·<|zp-zq|²>)，颜色差均值接近 0 时 beta 取 0
func computeSmoothness(pix []Color, width, height, k int, gamma float64) *smoothness {
	s := &smoothness{width: width, height: height, k: k, w: make([]float64, width*height*k)}

	var sum float64
	var count int
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := y*width + x
			for d := 0; d < k; d++ {
				if !forward(d) {
					continue
				}
				qx, qy := x+offsets[d].X, y+offsets[d].Y
				if qx < 0 || qx >= width || qy >= height {
					continue
				}
				sum += dist2(pix[p], pix[qy*width+qx])
				count++
			}
		}
	}
	if count > 0 {
		if mean := sum / float64(count); mean > 1e-9 {
			s.beta = 1 / (2 * mean)
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := y*width + x
			for d := 0; d < k; d++ {
				o := offsets[d]
				qx, qy := x+o.X, y+o.Y
				if qx < 0 || qy < 0 || qx >= width || qy >= height {
					continue
				}
				length := math.Hypot(float64(o.X), float64(o.Y))
				s.w[p*k+d] = gamma / length * math.Exp(-s.beta*dist2(pix[p], pix[qy*width+qx]))
			}
		}
	}
	return s
}

// dataCosts 计算每个像素标为前景/背景的代价。
// probable 像素取负对数似然并减去两者较小值，使代价非负；definite 像素用 lambda 钳住。
func dataCosts(pix []Color, labels *LabelGrid, fgd, bgd *ColorModel, lambda float64, fgCost, bgCost []float64) {
	for p, l := range labels.Labels {
		switch l {
		case Background:
			fgCost[p], bgCost[p] = lambda, 0
		case Foreground:
			fgCost[p], bgCost[p] = 0, lambda
		default:
			f := fgd.NegLogLikelihood(pix[p])
			b := bgd.NegLogLikelihood(pix[p])
			m := math.Min(f, b)
			fgCost[p], bgCost[p] = f-m, b-m
		}
	}
}

// energy 标记的总能量：数据项 + 标记不同的相邻像素之间的平滑项
func energy(labels *LabelGrid, fgCost, bgCost []float64, sm *smoothness) float64 {
	var e float64
	w, h, k := labels.Width, labels.Height, sm.k
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			fg := labels.Labels[p].IsForeground()
			if fg {
				e += fgCost[p]
			} else {
				e += bgCost[p]
			}
			for d := 0; d < k; d++ {
				if !forward(d) {
					continue
				}
				qx, qy := x+offsets[d].X, y+offsets[d].Y
				if qx < 0 || qx >= w || qy >= h {
					continue
				}
				if labels.Labels[qy*w+qx].IsForeground() != fg {
					e += sm.w[p*k+d]
				}
			}
		}
	}
	return e
}
