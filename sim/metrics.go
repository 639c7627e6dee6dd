package sim

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// KPIs aggregates run-wide performance figures. Counters accumulate
// incrementally during the run; the derived rates are filled in once by
// finalize at run end.
type KPIs struct {
	TotalTrains     int     `json:"total_trains"`
	CompletedTrains int     `json:"completed_trains"`
	ActiveTrains    int     `json:"active_trains"`
	TotalDelayMin   float64 `json:"total_delay_min"`
	MaxDelayMin     float64 `json:"max_delay_min"`
	AvgDelayMin     float64 `json:"avg_delay_min"`
	P95DelayMin     float64 `json:"p95_delay_min"`
	// SectionUtilization is busy block-time over available block-time, in percent.
	SectionUtilization float64 `json:"section_utilization"`
	// Throughput is completed trains per hour of simulated time.
	Throughput float64 `json:"throughput"`
	// OnTimePerformance is the percentage of completed trains with delay
	// under 5 minutes.
	OnTimePerformance float64 `json:"on_time_performance"`
	// SafetyScore starts at 100 and loses 20 per critical and 5 per
	// warning event, floored at 0.
	SafetyScore     float64 `json:"safety_score"`
	TotalDistanceKM float64 `json:"total_distance_km"`
	AvgSpeedKMPH    float64 `json:"avg_speed_kmph"`
}

const onTimeThresholdMin = 5.0

// finalize computes the derived rates from the accumulated counters.
func (k *KPIs) finalize(blockCount int, maxTimeMin float64, busyTimeMin, transitTimeMin float64,
	delays []float64, criticalEvents, warningEvents int) {
	totalBlockTime := float64(blockCount) * maxTimeMin
	if totalBlockTime > 0 {
		k.SectionUtilization = busyTimeMin / totalBlockTime * 100
	}
	if maxTimeMin > 0 {
		k.Throughput = float64(k.CompletedTrains) / (maxTimeMin / 60)
	}
	if k.CompletedTrains > 0 {
		onTime := 0
		for _, d := range delays {
			if d < onTimeThresholdMin {
				onTime++
			}
		}
		k.OnTimePerformance = float64(onTime) / float64(k.CompletedTrains) * 100
		k.AvgDelayMin = stat.Mean(delays, nil)
		sorted := append([]float64(nil), delays...)
		sort.Float64s(sorted)
		k.P95DelayMin = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}
	if transitTimeMin > 0 {
		k.AvgSpeedKMPH = k.TotalDistanceKM / (transitTimeMin / 60)
	}
	k.SafetyScore = max(0, 100-float64(criticalEvents)*20-float64(warningEvents)*5)
}

// Print displays the aggregated KPIs at the end of a run.
func (k *KPIs) Print() {
	fmt.Println("=== Simulation KPIs ===")
	fmt.Printf("Trains (total/completed/active) : %d / %d / %d\n", k.TotalTrains, k.CompletedTrains, k.ActiveTrains)
	fmt.Printf("Total delay          : %.1f min\n", k.TotalDelayMin)
	fmt.Printf("Max delay            : %.1f min\n", k.MaxDelayMin)
	fmt.Printf("Avg delay            : %.2f min (p95 %.2f)\n", k.AvgDelayMin, k.P95DelayMin)
	fmt.Printf("Section utilization  : %.1f %%\n", k.SectionUtilization)
	fmt.Printf("Throughput           : %.2f trains/h\n", k.Throughput)
	fmt.Printf("On-time performance  : %.1f %%\n", k.OnTimePerformance)
	fmt.Printf("Safety score         : %.0f\n", k.SafetyScore)
	fmt.Printf("Distance travelled   : %.1f km (avg speed %.1f km/h)\n", k.TotalDistanceKM, k.AvgSpeedKMPH)
}
