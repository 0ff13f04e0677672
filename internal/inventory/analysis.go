package inventory

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/streams"
)

// ============================================================================
// ANALYZER SERVICE
// ============================================================================

// ExpiryBand classifies how close a batch is to its expiry date.
type ExpiryBand string

const (
	ExpiryExpired  ExpiryBand = "Expired"
	ExpiryCritical ExpiryBand = "Critical"
	ExpiryUrgent   ExpiryBand = "Urgent"
	ExpiryWarning  ExpiryBand = "Warning"
	ExpiryNormal   ExpiryBand = "Normal"
)

// ABCClass is the inventory value class.
type ABCClass string

const (
	ClassA ABCClass = "A"
	ClassB ABCClass = "B"
	ClassC ABCClass = "C"
)

// ValueBasis selects the value function for ABC classification.
type ValueBasis string

const (
	BasisAnnualConsumptionValue ValueBasis = "AnnualConsumptionValue"
	BasisVelocity               ValueBasis = "Velocity"
	BasisCurrentValue           ValueBasis = "CurrentValue"
	BasisCombined               ValueBasis = "Combined"
)

// ReorderUrgency ranks reorder suggestions.
type ReorderUrgency string

const (
	UrgencyOutOfStock ReorderUrgency = "OutOfStock"
	UrgencyCritical   ReorderUrgency = "Critical"
	UrgencyHigh       ReorderUrgency = "High"
	UrgencyMedium     ReorderUrgency = "Medium"
	UrgencyLow        ReorderUrgency = "Low"
)

// MaxExpiryAlertsPerScan caps alert emission per expiry scan.
const MaxExpiryAlertsPerScan = 10

// AnalyzerConfig carries the tunable thresholds.
type AnalyzerConfig struct {
	CriticalDays    int
	UrgentDays      int
	WarningDays     int
	Alerting        bool
	ClassAThreshold float64 // cumulative %, default 80
	ClassBThreshold float64 // cumulative %, default 95
	AnalysisDays    int
	DefaultLeadTime int // days
	OrderingCost    float64
	HoldingCostRate float64 // fraction of unit cost per year
}

// IngredientMeta is per-ingredient purchasing data registered alongside the
// ingredient. Zero values fall back to config defaults.
type IngredientMeta struct {
	LeadTimeDays int
	SafetyStock  decimal.Decimal
	OrderingCost float64
	HoldingCost  float64 // per unit per year; overrides HoldingCostRate·WAC
	ABCOverride  ABCClass
}

// Analyzer runs the expiry, ABC and reorder analyses across the ingredients
// registered per site. It reads actor snapshots through the host, so results
// reflect committed state only and may lag in-flight commands.
type Analyzer struct {
	mu     sync.RWMutex
	host   *actor.Host
	bus    streams.Bus
	cfg    AnalyzerConfig
	clock  func() time.Time
	logger *log.Logger

	// (org, site) -> ingredientID -> meta
	registered map[siteKey]map[string]IngredientMeta
}

type siteKey struct{ org, site string }

func NewAnalyzer(host *actor.Host, bus streams.Bus, cfg AnalyzerConfig) *Analyzer {
	if cfg.ClassAThreshold == 0 {
		cfg.ClassAThreshold = 80
	}
	if cfg.ClassBThreshold == 0 {
		cfg.ClassBThreshold = 95
	}
	if cfg.AnalysisDays == 0 {
		cfg.AnalysisDays = 30
	}
	if cfg.DefaultLeadTime == 0 {
		cfg.DefaultLeadTime = 3
	}
	return &Analyzer{
		host:       host,
		bus:        bus,
		cfg:        cfg,
		clock:      time.Now,
		logger:     log.New(log.Writer(), "[ANALYZER] ", log.LstdFlags),
		registered: make(map[siteKey]map[string]IngredientMeta),
	}
}

// RegisterIngredient adds an ingredient to the scan set for a site.
func (a *Analyzer) RegisterIngredient(org, site, ingredientID string, meta IngredientMeta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := siteKey{org, site}
	if a.registered[k] == nil {
		a.registered[k] = make(map[string]IngredientMeta)
	}
	a.registered[k][ingredientID] = meta
}

// UnregisterIngredient removes an ingredient from the scan set.
func (a *Analyzer) UnregisterIngredient(org, site, ingredientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.registered[siteKey{org, site}], ingredientID)
}

func (a *Analyzer) sites() []siteKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]siteKey, 0, len(a.registered))
	for k := range a.registered {
		out = append(out, k)
	}
	return out
}

// RunExpiryScans runs ScanExpiry over every registered site on the given
// interval until ctx is cancelled. Scan errors are logged, not fatal.
func (a *Analyzer) RunExpiryScans(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, k := range a.sites() {
				if _, err := a.ScanExpiry(ctx, k.org, k.site); err != nil {
					a.logger.Printf("expiry scan failed org=%s site=%s: %v", k.org, k.site, err)
				}
			}
		}
	}
}

func (a *Analyzer) ingredients(org, site string) map[string]IngredientMeta {
	a.mu.RLock()
	defer a.mu.RUnlock()
	src := a.registered[siteKey{org, site}]
	out := make(map[string]IngredientMeta, len(src))
	for id, m := range src {
		out[id] = m
	}
	return out
}

func (a *Analyzer) snapshot(ctx context.Context, org, site, ingredientID string) (Snapshot, error) {
	return actor.Call(ctx, a.host, actor.InventoryKey(org, site, ingredientID),
		func(ctx context.Context, inv *Inventory) (Snapshot, error) {
			if !inv.state().Initialized() {
				return Snapshot{}, nil
			}
			return inv.GetSnapshot(), nil
		})
}

// sortedIDs gives scans a stable iteration order.
func sortedIDs(m map[string]IngredientMeta) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ============================================================================
// EXPIRY MONITOR
// ============================================================================

// ExpiryAlert is one batch flagged by an expiry scan.
type ExpiryAlert struct {
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name"`
	BatchID      string          `json:"batchId"`
	BatchNumber  string          `json:"batchNumber"`
	ExpiryDate   time.Time       `json:"expiryDate"`
	DaysLeft     float64         `json:"daysLeft"`
	Qty          decimal.Decimal `json:"qty"`
	Value        decimal.Decimal `json:"value"`
	Band         ExpiryBand      `json:"band"`
}

// classifyExpiry bands a batch by fractional days until expiry. An expiry
// in the past, by any margin, is Expired; exactly now is Critical when
// criticalDays >= 0.
func classifyExpiry(daysLeft float64, cfg AnalyzerConfig) ExpiryBand {
	switch {
	case daysLeft < 0:
		return ExpiryExpired
	case daysLeft <= float64(cfg.CriticalDays):
		return ExpiryCritical
	case daysLeft <= float64(cfg.UrgentDays):
		return ExpiryUrgent
	case daysLeft <= float64(cfg.WarningDays):
		return ExpiryWarning
	default:
		return ExpiryNormal
	}
}

// ScanExpiry inspects every active batch of every registered ingredient and
// returns the batches outside the Normal band. At most
// MaxExpiryAlertsPerScan alert events are published per scan.
func (a *Analyzer) ScanExpiry(ctx context.Context, org, site string) ([]ExpiryAlert, error) {
	now := a.clock().UTC()
	reg := a.ingredients(org, site)

	var alerts []ExpiryAlert
	for _, id := range sortedIDs(reg) {
		snap, err := a.snapshot(ctx, org, site, id)
		if err != nil {
			a.logger.Printf("expiry scan skipping %s/%s/%s: %v", org, site, id, err)
			continue
		}
		for _, b := range snap.Batches {
			if b.Status != BatchActive || b.ExpiryDate == nil {
				continue
			}
			daysLeft := b.ExpiryDate.Sub(now).Hours() / 24
			band := classifyExpiry(daysLeft, a.cfg)
			if band == ExpiryNormal {
				continue
			}
			alerts = append(alerts, ExpiryAlert{
				IngredientID: id,
				Name:         snap.Name,
				BatchID:      b.ID,
				BatchNumber:  b.BatchNumber,
				ExpiryDate:   *b.ExpiryDate,
				DaysLeft:     daysLeft,
				Qty:          b.Qty,
				Value:        b.Qty.Mul(b.UnitCost),
				Band:         band,
			})
		}
	}

	if a.cfg.Alerting {
		published := 0
		for _, al := range alerts {
			if published >= MaxExpiryAlertsPerScan {
				break
			}
			ev := streams.Event{
				Namespace: streams.NamespaceAlerts,
				Tenant:    org,
				Type:      StreamTypeExpiryAlert,
				Source:    "analyzer:" + site,
				Time:      now,
				Data:      al,
			}
			if err := a.bus.Publish(ctx, ev); err != nil {
				a.logger.Printf("expiry alert publish failed %s/%s: %v", site, al.IngredientID, err)
				continue
			}
			published++
		}
	}
	return alerts, nil
}

// WriteOffExpired drives each registered ingredient's write-off command and
// aggregates the results.
func (a *Analyzer) WriteOffExpired(ctx context.Context, org, site, by string) (map[string]ExpiredWriteOff, error) {
	reg := a.ingredients(org, site)
	out := make(map[string]ExpiredWriteOff)
	for _, id := range sortedIDs(reg) {
		res, err := actor.Call(ctx, a.host, actor.InventoryKey(org, site, id),
			func(ctx context.Context, inv *Inventory) (ExpiredWriteOff, error) {
				return inv.WriteOffExpiredBatches(ctx, by)
			})
		if err != nil {
			a.logger.Printf("expired write-off failed %s/%s/%s: %v", org, site, id, err)
			continue
		}
		if len(res.BatchIDs) > 0 {
			out[id] = res
		}
	}
	return out, nil
}

// ============================================================================
// ABC CLASSIFIER
// ============================================================================

// ABCResult is one ingredient's classification.
type ABCResult struct {
	IngredientID  string          `json:"ingredientId"`
	Value         decimal.Decimal `json:"value"`
	CumulativePct float64         `json:"cumulativePct"`
	Class         ABCClass        `json:"class"`
	Overridden    bool            `json:"overridden,omitempty"`
}

// usageWindow sums consumption quantity and cost over the analysis period.
func (a *Analyzer) usageWindow(snap Snapshot, now time.Time) (qty, cost decimal.Decimal) {
	cutoff := now.AddDate(0, 0, -a.cfg.AnalysisDays)
	for _, m := range snap.Movements {
		if m.Type == MovementConsumption && !m.At.Before(cutoff) {
			qty = qty.Add(m.Qty)
			cost = cost.Add(m.TotalCost)
		}
	}
	return qty, cost
}

func (a *Analyzer) valueOf(basis ValueBasis, snap Snapshot, now time.Time) decimal.Decimal {
	usageQty, usageCost := a.usageWindow(snap, now)
	annualize := decimal.NewFromFloat(365.0 / float64(a.cfg.AnalysisDays))
	switch basis {
	case BasisVelocity:
		return usageQty
	case BasisCurrentValue:
		return snap.OnHand.Mul(snap.WAC)
	case BasisCombined:
		annual := usageCost.Mul(annualize)
		current := snap.OnHand.Mul(snap.WAC)
		return annual.Add(current).Div(decimal.NewFromInt(2))
	default: // BasisAnnualConsumptionValue
		return usageCost.Mul(annualize)
	}
}

// ClassifyABC sorts registered ingredients by the chosen value function and
// assigns classes by cumulative share of total value. Manual overrides from
// the ingredient metadata are applied after automatic assignment.
func (a *Analyzer) ClassifyABC(ctx context.Context, org, site string, basis ValueBasis) ([]ABCResult, error) {
	now := a.clock().UTC()
	reg := a.ingredients(org, site)

	results := make([]ABCResult, 0, len(reg))
	total := decimal.Zero
	for _, id := range sortedIDs(reg) {
		snap, err := a.snapshot(ctx, org, site, id)
		if err != nil {
			a.logger.Printf("abc scan skipping %s/%s/%s: %v", org, site, id, err)
			continue
		}
		v := a.valueOf(basis, snap, now)
		if v.Sign() < 0 {
			v = decimal.Zero
		}
		results = append(results, ABCResult{IngredientID: id, Value: v})
		total = total.Add(v)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Value.Cmp(results[j].Value) > 0
	})

	cumulative := decimal.Zero
	for i := range results {
		cumulative = cumulative.Add(results[i].Value)
		pct := 100.0
		if total.Sign() > 0 {
			pct, _ = cumulative.Div(total).Mul(decimal.NewFromInt(100)).Float64()
		}
		results[i].CumulativePct = pct
		switch {
		case total.Sign() == 0:
			results[i].Class = ClassC
		case pct <= a.cfg.ClassAThreshold:
			results[i].Class = ClassA
		case pct <= a.cfg.ClassBThreshold:
			results[i].Class = ClassB
		default:
			results[i].Class = ClassC
		}
	}

	for i := range results {
		if ov := reg[results[i].IngredientID].ABCOverride; ov != "" {
			results[i].Class = ov
			results[i].Overridden = true
		}
	}
	return results, nil
}

// ============================================================================
// REORDER SUGGESTIONS
// ============================================================================

// ReorderSuggestion is one ingredient's purchasing recommendation.
type ReorderSuggestion struct {
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name"`
	OnHand       decimal.Decimal `json:"onHand"`
	DailyUsage   decimal.Decimal `json:"dailyUsage"`
	DaysOfSupply float64         `json:"daysOfSupply"`
	Urgency      ReorderUrgency  `json:"urgency"`
	SuggestedQty decimal.Decimal `json:"suggestedQty"`
	EOQ          decimal.Decimal `json:"eoq"`
}

// reorderUrgency applies the urgency ladder. Days-of-supply rungs are
// checked before the reorder-point rung.
func reorderUrgency(onHand, reorderPoint decimal.Decimal, daysOfSupply float64, leadTime int) ReorderUrgency {
	lt := float64(leadTime)
	switch {
	case onHand.Sign() == 0:
		return UrgencyOutOfStock
	case daysOfSupply <= lt/2:
		return UrgencyCritical
	case daysOfSupply <= lt:
		return UrgencyHigh
	case daysOfSupply <= 1.5*lt:
		return UrgencyMedium
	case onHand.Cmp(reorderPoint) <= 0:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// SuggestReorders computes a purchasing recommendation per registered
// ingredient from its recent consumption rate.
func (a *Analyzer) SuggestReorders(ctx context.Context, org, site string) ([]ReorderSuggestion, error) {
	now := a.clock().UTC()
	reg := a.ingredients(org, site)

	var out []ReorderSuggestion
	for _, id := range sortedIDs(reg) {
		meta := reg[id]
		snap, err := a.snapshot(ctx, org, site, id)
		if err != nil {
			a.logger.Printf("reorder scan skipping %s/%s/%s: %v", org, site, id, err)
			continue
		}
		if snap.IngredientID == "" {
			continue
		}

		usageQty, _ := a.usageWindow(snap, now)
		dailyUsage := usageQty.Div(decimal.NewFromInt(int64(a.cfg.AnalysisDays)))

		daysOfSupply := math.Inf(1)
		if dailyUsage.Sign() > 0 {
			daysOfSupply, _ = snap.OnHand.Div(dailyUsage).Float64()
		}

		leadTime := meta.LeadTimeDays
		if leadTime == 0 {
			leadTime = a.cfg.DefaultLeadTime
		}

		target := decimal.Max(snap.ParLevel, dailyUsage.Mul(decimal.NewFromInt(int64(leadTime))).Mul(decimal.NewFromInt(2)))
		suggested := target.Add(meta.SafetyStock).Sub(snap.OnHand).Ceil()
		if suggested.Sign() < 0 {
			suggested = decimal.Zero
		}

		out = append(out, ReorderSuggestion{
			IngredientID: id,
			Name:         snap.Name,
			OnHand:       snap.OnHand,
			DailyUsage:   dailyUsage,
			DaysOfSupply: daysOfSupply,
			Urgency:      reorderUrgency(snap.OnHand, snap.ReorderPoint, daysOfSupply, leadTime),
			SuggestedQty: suggested,
			EOQ:          a.economicOrderQty(meta, snap, dailyUsage),
		})
	}
	return out, nil
}

// economicOrderQty is sqrt(2·D·Co/Ch). When any input is missing it falls
// back to topping up to par.
func (a *Analyzer) economicOrderQty(meta IngredientMeta, snap Snapshot, dailyUsage decimal.Decimal) decimal.Decimal {
	annualDemand, _ := dailyUsage.Mul(decimal.NewFromInt(365)).Float64()

	orderingCost := meta.OrderingCost
	if orderingCost == 0 {
		orderingCost = a.cfg.OrderingCost
	}
	holdingCost := meta.HoldingCost
	if holdingCost == 0 {
		wac, _ := snap.WAC.Float64()
		holdingCost = a.cfg.HoldingCostRate * wac
	}

	if annualDemand > 0 && orderingCost > 0 && holdingCost > 0 {
		return decimal.NewFromFloat(math.Sqrt(2 * annualDemand * orderingCost / holdingCost)).Round(2)
	}

	fallback := snap.ParLevel.Sub(snap.OnHand)
	if fallback.Sign() < 0 {
		return decimal.Zero
	}
	return fallback
}
