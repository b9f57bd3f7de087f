package market

// KyleLambdaEstimator 滚动回归 Δprice = λ·signedVolume，估计价格冲击系数 λ。
type KyleLambdaEstimator struct {
	window   int
	dPrice   []float64
	signedQ  []float64
	lastMid  float64
	hasPrice bool
}

func NewKyleLambdaEstimator(window int) *KyleLambdaEstimator {
	if window < 3 {
		window = 3
	}
	return &KyleLambdaEstimator{window: window}
}

// Add 记录一个观测：本期中间价与本期净成交量（买为正）。
func (k *KyleLambdaEstimator) Add(mid, signedVolume float64) {
	if mid <= 0 {
		return
	}
	if k.hasPrice {
		k.dPrice = append(k.dPrice, mid-k.lastMid)
		k.signedQ = append(k.signedQ, signedVolume)
		if len(k.dPrice) > k.window {
			k.dPrice = k.dPrice[1:]
			k.signedQ = k.signedQ[1:]
		}
	}
	k.lastMid = mid
	k.hasPrice = true
}

// AddBar 用K线实体方向近似净成交量。
func (k *KyleLambdaEstimator) AddBar(b Bar) {
	k.Add(b.Close, BarFlowImbalance(b)*b.Volume)
}

// Lambda 返回 OLS 斜率 cov(Δp,q)/var(q)；样本不足 3 个或 q 方差为 0 时返回 0。
func (k *KyleLambdaEstimator) Lambda() float64 {
	n := len(k.dPrice)
	if n < 3 {
		return 0
	}
	mp, mq := Mean(k.dPrice), Mean(k.signedQ)
	cov, varQ := 0.0, 0.0
	for i := 0; i < n; i++ {
		dq := k.signedQ[i] - mq
		cov += (k.dPrice[i] - mp) * dq
		varQ += dq * dq
	}
	if varQ == 0 {
		return 0
	}
	return cov / varQ
}

func (k *KyleLambdaEstimator) Reset() {
	k.dPrice = nil
	k.signedQ = nil
	k.hasPrice = false
	k.lastMid = 0
}
