package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CoordinatorMetrics holds all Prometheus metrics for the coordinator.
type CoordinatorMetrics struct {
	// Task metrics
	TasksSubmitted  *prometheus.CounterVec
	TasksFinalized  *prometheus.CounterVec
	TasksCancelled  *prometheus.CounterVec
	TaskTransitions *prometheus.CounterVec
	TasksActive     prometheus.Gauge
	CacheHits       prometheus.Counter

	// Verification metrics
	VerificationScores prometheus.Histogram
	VerificationFails  prometheus.Counter
	ProofsRequested    prometheus.Counter
	ProofsFailed       prometheus.Counter

	// Node metrics
	NodesRegistered *prometheus.CounterVec
	NodesActive     prometheus.Gauge
	NodeReputation  *prometheus.GaugeVec
	NodeSlashing    *prometheus.CounterVec

	// Economic metrics
	StakeLocked     *prometheus.GaugeVec
	RewardsSettled  prometheus.Counter
	RewardsClaimed  prometheus.Counter
	ChallengesOpen  prometheus.Gauge
	ChallengeVotes  *prometheus.CounterVec

	// Engine metrics
	TimerExpirations  *prometheus.CounterVec
	InvariantFailures prometheus.Counter
}

var (
	coordinatorMetricsOnce sync.Once
	coordinatorMetrics     *CoordinatorMetrics
)

// New creates and registers coordinator metrics (singleton; prometheus
// rejects duplicate registration on repeated construction).
func New() *CoordinatorMetrics {
	coordinatorMetricsOnce.Do(func() {
		coordinatorMetrics = &CoordinatorMetrics{
			TasksSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_tasks_submitted_total",
				Help: "Total tasks submitted, by workflow class",
			}, []string{"workflow"}),
			TasksFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_tasks_finalized_total",
				Help: "Total tasks finalized, by workflow class",
			}, []string{"workflow"}),
			TasksCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_tasks_cancelled_total",
				Help: "Total tasks cancelled, by reason",
			}, []string{"reason"}),
			TaskTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_task_transitions_total",
				Help: "Total task state transitions, by from/to state",
			}, []string{"from", "to"}),
			TasksActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "coordinator_tasks_active",
				Help: "Tasks currently in a non-terminal state",
			}),
			CacheHits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_cache_hits_total",
				Help: "Tasks short-circuited by a semantic cache hit",
			}),

			VerificationScores: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "coordinator_verification_score_bps",
				Help:    "Aggregate verification scores in basis points",
				Buckets: prometheus.LinearBuckets(0, 1000, 11),
			}),
			VerificationFails: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_verification_failures_total",
				Help: "Outputs rejected by the verification aggregator",
			}),
			ProofsRequested: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_proofs_requested_total",
				Help: "Proof generation requests issued",
			}),
			ProofsFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_proofs_failed_total",
				Help: "Proofs reported failed by the proof collaborator",
			}),

			NodesRegistered: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_nodes_registered_total",
				Help: "Node registrations, by capability class",
			}, []string{"capability"}),
			NodesActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "coordinator_nodes_active",
				Help: "Nodes currently active",
			}),
			NodeReputation: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "coordinator_node_reputation_bps",
				Help: "Node reputation in basis points",
			}, []string{"node"}),
			NodeSlashing: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_node_slashing_total",
				Help: "Slashing events, by reason",
			}, []string{"reason"}),

			StakeLocked: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "coordinator_stake_locked",
				Help: "Locked stake per purpose",
			}, []string{"purpose"}),
			RewardsSettled: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_rewards_settled_total",
				Help: "Settlement batches processed",
			}),
			RewardsClaimed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_rewards_claimed_total",
				Help: "Reward claims paid out",
			}),
			ChallengesOpen: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "coordinator_challenges_open",
				Help: "Challenges currently unresolved",
			}),
			ChallengeVotes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_challenge_votes_total",
				Help: "Votes cast on challenges, by direction",
			}, []string{"direction"}),

			TimerExpirations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "coordinator_timer_expirations_total",
				Help: "Deadline expirations processed, by kind",
			}, []string{"kind"}),
			InvariantFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coordinator_invariant_failures_total",
				Help: "Conservation or index invariant violations detected",
			}),
		}
	})
	return coordinatorMetrics
}
