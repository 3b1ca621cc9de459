package detection

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker"

	"github.com/dbsentinel/piiscan/pkg/scan"
	"github.com/dbsentinel/piiscan/pkg/testutil"
)

var _ = Describe("NerStrategy", func() {
	var (
		cfg scan.DetectionConfig
		ctx context.Context
		col scan.ColumnDescriptor
	)

	BeforeEach(func() {
		cfg = scan.DefaultDetectionConfig()
		ctx = context.Background()
		col = testutil.Column("public", "users", "bio")
	})

	It("should score the tagged fraction of the batch", func() {
		client := testutil.NewMockNerClient(
			scan.NerEntity{Value: "Ada Lovelace", Type: PiiTypePersonName, Score: 0.98},
			scan.NerEntity{Value: "Alan Turing", Type: PiiTypePersonName, Score: 0.97},
		)
		strategy := NewNerStrategy(client, scan.DefaultNerConfig(), newQuietLogger())
		sample := testutil.StringSamples(col.Ref, "Ada Lovelace", "Alan Turing", "not a name", "also not")

		candidates, err := strategy.Detect(ctx, col, sample, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(HaveLen(1))
		Expect(candidates[0].PiiType).To(Equal(PiiTypePersonName))
		Expect(candidates[0].Confidence).To(BeNumerically("~", 0.5, 0.001))
	})

	It("should cap the batch at the configured max samples", func() {
		client := testutil.NewMockNerClient()
		nerCfg := scan.DefaultNerConfig()
		nerCfg.MaxSamples = 3
		strategy := NewNerStrategy(client, nerCfg, newQuietLogger())

		sample := testutil.StringSamples(col.Ref, "a", "b", "c", "d", "e")
		_, err := strategy.Detect(ctx, col, sample, cfg)
		Expect(err).NotTo(HaveOccurred())

		batches := client.Batches()
		Expect(batches).To(HaveLen(1))
		Expect(batches[0]).To(HaveLen(3))
	})

	It("should skip columns without non-null samples", func() {
		client := testutil.NewMockNerClient()
		strategy := NewNerStrategy(client, scan.DefaultNerConfig(), newQuietLogger())

		candidates, err := strategy.Detect(ctx, col, testutil.Samples(col.Ref, nil, nil), cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(BeEmpty())
		Expect(client.Calls()).To(BeZero())
	})

	Context("circuit breaker", func() {
		It("should open after the configured consecutive failures and fail fast", func() {
			client := testutil.NewMockNerClient()
			client.Err = errors.New("ner service unavailable")

			nerCfg := scan.DefaultNerConfig()
			nerCfg.FailureThreshold = 3
			strategy := NewNerStrategy(client, nerCfg, newQuietLogger())

			sample := testutil.StringSamples(col.Ref, "Ada")

			// Three failing batches trip the breaker.
			for i := 0; i < 3; i++ {
				_, err := strategy.Detect(ctx, col, sample, cfg)
				Expect(err).To(HaveOccurred())
			}
			Expect(strategy.BreakerState()).To(Equal(gobreaker.StateOpen))
			callsWhenOpened := client.Calls()

			// While open: empty candidates, no error, no network call.
			candidates, err := strategy.Detect(ctx, col, sample, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(BeEmpty())
			Expect(client.Calls()).To(Equal(callsWhenOpened))
		})

		It("should count retries within one batch as a single breaker failure", func() {
			client := testutil.NewMockNerClient()
			client.Err = errors.New("flaky")

			nerCfg := scan.DefaultNerConfig()
			nerCfg.FailureThreshold = 2
			nerCfg.RetryAttempts = 2
			strategy := NewNerStrategy(client, nerCfg, newQuietLogger())

			sample := testutil.StringSamples(col.Ref, "Ada")

			_, err := strategy.Detect(ctx, col, sample, cfg)
			Expect(err).To(HaveOccurred())
			// One batch, three attempts, breaker still closed.
			Expect(client.Calls()).To(Equal(3))
			Expect(strategy.BreakerState()).To(Equal(gobreaker.StateClosed))
		})
	})
})
