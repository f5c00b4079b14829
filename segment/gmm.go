package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/muesli/clusters"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// Components 每个颜色模型的高斯分量数
	Components = 5

	kmeansIterations = 10
	// k-means 播种时的最大样本数，超过则按步长抽样
	maxSeedSamples = 20000

	covEpsilon        = 1e-9
	covRegularization = 0.01
	maxRegularization = 8
)

var (
	log2Pi = math.Log(2 * math.Pi)

	errNoSamples = errors.New("color model: no samples")
)

// Color RGB 三通道，取值 0-255
type Color [3]float64

// Coordinates 实现 clusters.Observation
func (c Color) Coordinates() clusters.Coordinates {
	return clusters.Coordinates{c[0], c[1], c[2]}
}

// Distance 平方欧氏距离
func (c Color) Distance(p clusters.Coordinates) float64 {
	d0, d1, d2 := c[0]-p[0], c[1]-p[1], c[2]-p[2]
	return d0*d0 + d1*d1 + d2*d2
}

type component struct {
	weight  float64
	mean    Color
	inv     [3][3]float64
	logDet  float64
	logNorm float64 // log(weight) - logDet/2 - 3/2·log(2π)
}

func (c *component) logDensity(z Color) float64 {
	d0, d1, d2 := z[0]-c.mean[0], z[1]-c.mean[1], z[2]-c.mean[2]
	m := d0*(c.inv[0][0]*d0+c.inv[0][1]*d1+c.inv[0][2]*d2) +
		d1*(c.inv[1][0]*d0+c.inv[1][1]*d1+c.inv[1][2]*d2) +
		d2*(c.inv[2][0]*d0+c.inv[2][1]*d1+c.inv[2][2]*d2)
	return c.logNorm - 0.5*m
}

// ColorModel 高斯混合颜色模型，每次迭代从当前标记重新拟合
type ColorModel struct {
	components []component
}

// FitColorModel 对样本做确定性 k-means 播种，估计各分量参数，
// 再做一轮硬分配 EM 细化。样本数少于分量数时分量数随之减少。
func FitColorModel(samples []Color) (*ColorModel, error) {
	if len(samples) == 0 {
		return nil, errNoSamples
	}

	centers := seedCenters(samples, Components)

	assign := make([]int, len(samples))
	for i, s := range samples {
		assign[i] = centers.Nearest(s)
	}
	comps, err := estimate(samples, assign, len(centers))
	if err != nil {
		return nil, err
	}

	m := &ColorModel{components: comps}
	for i, s := range samples {
		assign[i] = m.mostLikely(s)
	}
	comps, err = estimate(samples, assign, len(comps))
	if err != nil {
		return nil, err
	}
	m.components = comps
	return m, nil
}

// Len 非空分量数
func (m *ColorModel) Len() int {
	return len(m.components)
}

// LogLikelihood 混合密度的对数，用 log-sum-exp 计算避免下溢
func (m *ColorModel) LogLikelihood(z Color) float64 {
	best := math.Inf(-1)
	var buf [Components]float64
	for i := range m.components {
		buf[i] = m.components[i].logDensity(z)
		if buf[i] > best {
			best = buf[i]
		}
	}
	if math.IsInf(best, -1) {
		return best
	}
	var sum float64
	for i := range m.components {
		sum += math.Exp(buf[i] - best)
	}
	return best + math.Log(sum)
}

// NegLogLikelihood 数据项代价
func (m *ColorModel) NegLogLikelihood(z Color) float64 {
	return -m.LogLikelihood(z)
}

func (m *ColorModel) mostLikely(z Color) int {
	best, idx := math.Inf(-1), 0
	for i := range m.components {
		if d := m.components[i].logDensity(z); d > best {
			best, idx = d, i
		}
	}
	return idx
}

// seedCenters 在均匀抽样的子集上跑 k-means，初始中心取等间隔样本
func seedCenters(samples []Color, k int) clusters.Clusters {
	step := 1
	if len(samples) > maxSeedSamples {
		step = (len(samples) + maxSeedSamples - 1) / maxSeedSamples
	}
	dataset := make(clusters.Observations, 0, len(samples)/step+1)
	for i := 0; i < len(samples); i += step {
		dataset = append(dataset, samples[i])
	}

	k = min(k, len(dataset))
	cc := make(clusters.Clusters, k)
	for i := range cc {
		cc[i].Center = dataset[i*len(dataset)/k].Coordinates()
	}

	assign := make([]int, len(dataset))
	for it := 0; it < kmeansIterations; it++ {
		cc.Reset()
		changed := false
		for i, o := range dataset {
			ci := cc.Nearest(o)
			if it == 0 || assign[i] != ci {
				changed = true
			}
			assign[i] = ci
			cc[ci].Append(o)
		}
		if !changed {
			break
		}
		// 空簇保留原中心
		cc.Recenter()
	}
	return cc
}

// estimate 按分配结果估计每个非空分量的权重、均值和协方差
func estimate(samples []Color, assign []int, k int) ([]component, error) {
	groups := make([][]int, k)
	for i, a := range assign {
		groups[a] = append(groups[a], i)
	}

	comps := make([]component, 0, k)
	for _, idx := range groups {
		if len(idx) == 0 {
			continue
		}
		data := mat.NewDense(len(idx), 3, nil)
		for r, i := range idx {
			data.SetRow(r, samples[i][:])
		}

		var mean Color
		col := make([]float64, len(idx))
		for j := 0; j < 3; j++ {
			mean[j] = stat.Mean(mat.Col(col, j, data), nil)
		}

		cov := mat.NewSymDense(3, nil)
		if len(idx) > 1 {
			stat.CovarianceMatrix(cov, data, nil)
		}

		c, err := newComponent(float64(len(idx))/float64(len(samples)), mean, cov)
		if err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	if len(comps) == 0 {
		return nil, errNoSamples
	}
	return comps, nil
}

// newComponent 分解协方差并缓存逆矩阵和行列式。协方差接近奇异时在对角线上加正则项。
func newComponent(weight float64, mean Color, cov *mat.SymDense) (component, error) {
	reg := covRegularization
	for attempt := 0; attempt < maxRegularization; attempt++ {
		var chol mat.Cholesky
		if chol.Factorize(cov) && chol.Det() > covEpsilon {
			var inv mat.SymDense
			if err := chol.InverseTo(&inv); err == nil {
				c := component{weight: weight, mean: mean, logDet: chol.LogDet()}
				for r := 0; r < 3; r++ {
					for s := 0; s < 3; s++ {
						c.inv[r][s] = inv.At(r, s)
					}
				}
				c.logNorm = math.Log(weight) - 0.5*c.logDet - 1.5*log2Pi
				return c, nil
			}
		}
		for i := 0; i < 3; i++ {
			cov.SetSym(i, i, cov.At(i, i)+reg)
		}
		reg *= 10
	}
	return component{}, fmt.Errorf("color model: covariance of component at %v is not positive definite", mean)
}
