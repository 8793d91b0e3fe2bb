//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/archive"
	"github.com/rampartlabs/rampart/internal/audit"
	"github.com/rampartlabs/rampart/internal/backend"
	"github.com/rampartlabs/rampart/internal/cache"
	"github.com/rampartlabs/rampart/internal/domain"
	"github.com/rampartlabs/rampart/internal/repo"
	"github.com/rampartlabs/rampart/internal/rulegen"
)

var _ = Describe("Policy Flow", func() {
	var (
		agent      *fakeAgent
		transport  *backend.WSTransport
		client     *backend.Client
		ledger     *audit.Ledger
		store      *archive.Store
		rulesCache *cache.Cache[[]domain.PolicyRule]
		rules      *repo.Rules
		generator  *rulegen.Generator
		dataDir    string
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		agent = newFakeAgent()
		logger := zap.NewNop()

		var err error
		dataDir, err = os.MkdirTemp("", "rampart-integration-*")
		Expect(err).NotTo(HaveOccurred())

		key, err := archive.EnsureKey(archive.NewFileKey(dataDir))
		Expect(err).NotTo(HaveOccurred())
		store, err = archive.Open(dataDir, key)
		Expect(err).NotTo(HaveOccurred())

		ledger = audit.NewLedger(audit.Config{Capacity: 100}, "tester", "lab", logger)
		ledger.SetArchiveSink(store)

		transport = backend.NewWSTransport(backend.DefaultWSConfig(agent.URL()), logger)
		Expect(transport.Connect(ctx)).To(Succeed())

		client = backend.NewClient(transport, backend.ClientConfig{
			ShortDeadline: 2 * time.Second,
			LongDeadline:  5 * time.Second,
		}, logger)

		rulesCache = cache.New[[]domain.PolicyRule](cache.Config{DefaultTTL: time.Minute}, logger)
		rules = repo.NewRules(client, rulesCache, logger)
		generator = rulegen.NewGenerator(rulegen.Config{}, client, ledger, rulesCache, logger)
	})

	AfterEach(func() {
		transport.Close()
		store.Close()
		agent.close()
		os.RemoveAll(dataDir)
	})

	serveRules := func(list ...map[string]any) {
		agent.handle("policy:getRules", func([]json.RawMessage) (any, string) {
			return list, ""
		})
	}

	Describe("rule creation", func() {
		Context("when the agent accepts the rule", func() {
			var submitted chan domain.GeneratedRule

			BeforeEach(func() {
				submitted = make(chan domain.GeneratedRule, 1)
				agent.handle("policy:createRule", func(args []json.RawMessage) (any, string) {
					var gen domain.GeneratedRule
					if err := json.Unmarshal(args[0], &gen); err != nil {
						return nil, "bad argument: " + err.Error()
					}
					submitted <- gen
					return map[string]any{
						"id":        gen.ID,
						"name":      gen.Name,
						"createdAt": "2026-03-01T10:00:00Z",
					}, ""
				})
				serveRules(map[string]any{"id": "r-1", "name": "Existing", "type": "Publisher", "action": "Allow"})
			})

			It("should submit the rule, audit it, and invalidate the cached collection", func() {
				first, err := rules.FindAll(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(first).To(HaveLen(1))
				Expect(agent.callCount("policy:getRules")).To(Equal(1))

				_, err = rules.FindAll(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(agent.callCount("policy:getRules")).To(Equal(1))

				rule, err := generator.CreateRule(ctx,
					domain.RuleSubject{Name: "Steam Client", Publisher: "Valve Corp"},
					domain.RuleActionDeny, domain.RuleTypePublisher, "Gamers")
				Expect(err).NotTo(HaveOccurred())
				Expect(rule.ID).NotTo(BeEmpty())
				Expect(rule.TargetGroup).To(Equal("Gamers"))

				entries := ledger.Query(audit.Filter{Action: domain.ActionRuleCreated})
				Expect(entries).To(HaveLen(1))
				Expect(entries[0].Success).To(BeTrue())
				Expect(entries[0].Severity).To(Equal(domain.SeverityHigh))

				_, err = rules.FindAll(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(agent.callCount("policy:getRules")).To(Equal(2))
			})

			It("should escape markup in the submitted name", func() {
				_, err := generator.CreateRule(ctx,
					domain.RuleSubject{Name: `Steam & "Friends" <Client>`, Publisher: "Valve Corp"},
					domain.RuleActionAllow, domain.RuleTypePublisher, "")
				Expect(err).NotTo(HaveOccurred())

				var gen domain.GeneratedRule
				Eventually(submitted).Should(Receive(&gen))
				Expect(gen.Name).To(Equal("Steam &amp; &quot;Friends&quot; &lt;Client&gt;"))
				Expect(gen.Name).NotTo(ContainSubstring("<"))
			})
		})

		Context("when the agent is unreachable", func() {
			It("should fail loudly and audit the failure", func() {
				Expect(transport.Close()).To(Succeed())

				rule, err := generator.CreateRule(ctx,
					domain.RuleSubject{Name: "Steam Client", Publisher: "Valve Corp"},
					domain.RuleActionDeny, domain.RuleTypePublisher, "")
				Expect(err).To(MatchError(domain.ErrUnavailable))
				Expect(rule).To(BeNil())

				failures := ledger.Query(audit.Filter{OnlyFailures: true})
				Expect(failures).To(HaveLen(1))
				Expect(failures[0].Action).To(Equal(domain.ActionRuleCreated))
			})
		})
	})

	Describe("collection reads", func() {
		It("should serve the second read from the cache", func() {
			serveRules(
				map[string]any{"id": "r-1", "name": "A", "type": "Path", "action": "Deny"},
				map[string]any{"id": "r-2", "name": "B", "type": "Publisher", "action": "Allow"},
			)

			first, err := rules.FindAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveLen(2))

			second, err := rules.FindAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
			Expect(agent.callCount("policy:getRules")).To(Equal(1))
		})

		It("should degrade to an empty collection when the transport is down", func() {
			Expect(transport.Close()).To(Succeed())

			items, err := rules.FindAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(BeEmpty())
			Expect(agent.callCount("policy:getRules")).To(BeZero())
		})

		It("should refetch after the agent pushes a policy change", func() {
			serveRules(map[string]any{"id": "r-1", "name": "A", "type": "Path", "action": "Deny"})

			cancel := transport.Subscribe("policy:changed", func(json.RawMessage) {
				rulesCache.Delete(backend.ChannelGetRules)
			})
			defer cancel()

			_, err := rules.FindAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(agent.callCount("policy:getRules")).To(Equal(1))

			agent.pushEvent("policy:changed", map[string]any{"reason": "external edit"})
			Eventually(func() bool {
				_, ok := rulesCache.Get(backend.ChannelGetRules)
				return ok
			}).Should(BeFalse())

			_, err = rules.FindAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(agent.callCount("policy:getRules")).To(Equal(2))
		})
	})

	Describe("artifact archive", func() {
		It("should persist a batch artifact and read it back after reopen", func() {
			outputPath := filepath.Join(dataDir, "batch.xml")
			items := []any{
				map[string]any{"name": "Steam", "path": "/apps/steam"},
				map[string]any{"name": "Dota 2", "path": "/apps/dota2"},
			}

			result, err := generator.BatchGenerate(items, outputPath, rulegen.BatchOptions{
				Action:      domain.RuleActionDeny,
				Type:        domain.RuleTypePath,
				TargetGroup: "Workstations",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RuleCount).To(Equal(2))
			Expect(result.Skipped).To(BeZero())

			content, err := os.ReadFile(outputPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring(`Path="/apps/steam"`))

			id, err := store.SaveArtifact("weekly-batch", string(content), result.RuleCount)
			Expect(err).NotTo(HaveOccurred())

			csv := ledger.ExportCSV()
			Expect(csv).To(ContainSubstring("batch.generated"))
			Expect(store.SnapshotCount()).To(Equal(1))

			Expect(store.Close()).To(Succeed())
			key, err := archive.EnsureKey(archive.NewFileKey(dataDir))
			Expect(err).NotTo(HaveOccurred())
			store, err = archive.Open(dataDir, key)
			Expect(err).NotTo(HaveOccurred())

			got, err := store.ArtifactContent(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(string(content)))

			infos, err := store.ListArtifacts()
			Expect(err).NotTo(HaveOccurred())
			Expect(infos).To(HaveLen(1))
			Expect(infos[0].Name).To(Equal("weekly-batch"))
		})
	})
})
