package session_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/pkg/types"
)

var _ = Describe("Controller", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(GinkgoT(), nil)
	})

	Describe("listener handoff", func() {
		DescribeTable("delivers every line exactly once around init",
			func(before, after int) {
				_, err := h.ctrl.Submit(ctx, "go", "")
				Expect(err).NotTo(HaveOccurred())

				for i := 0; i < before; i++ {
					h.agent.stdout(fmt.Sprintf(`{"type":"system","subtype":"hook","isMeta":true,"uuid":"pre-%d"}`, i))
				}
				h.agent.init("abc")
				for i := 0; i < after; i++ {
					h.agent.say("abc", assistantLine("abc", fmt.Sprintf("post-%d", i)))
				}

				msgs := h.ctrl.Snapshot().Messages
				Expect(msgs).To(HaveLen(1 + before + 1 + after))

				inits := 0
				for _, m := range msgs {
					if m.IsInit() {
						inits++
					}
				}
				Expect(inits).To(Equal(1))
				Expect(msgs[0].Kind).To(Equal(types.KindUser))
			},
			Entry("init first", 0, 0),
			Entry("output only before", 3, 0),
			Entry("output only after", 0, 4),
			Entry("both sides", 2, 5),
		)

		It("hands off at most once when init repeats", func() {
			_, err := h.ctrl.Submit(ctx, "go", "")
			Expect(err).NotTo(HaveOccurred())

			h.agent.init("abc")
			h.agent.say("abc", initLine("abc"))

			snap := h.ctrl.Snapshot()
			Expect(snap.Listening).To(Equal(session.ScopedListening))
			Expect(snap.SessionID).To(Equal("abc"))
			Expect(h.records.Saved()).To(HaveLen(1))
		})
	})

	Describe("prompt queue", func() {
		It("starts queued prompts in submission order", func() {
			_, err := h.ctrl.Submit(ctx, "P0", "")
			Expect(err).NotTo(HaveOccurred())
			for _, p := range []string{"P1", "P2", "P3"} {
				queued, err := h.ctrl.Submit(ctx, p, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(queued).NotTo(BeNil())
			}

			h.agent.turn("abc", "r0")
			h.agent.turn("abc", "r1")
			h.agent.turn("abc", "r2")

			var prompts []string
			for _, c := range h.launcher.Calls() {
				prompts = append(prompts, c.Prompt)
			}
			Expect(prompts).To(Equal([]string{"P0", "P1", "P2", "P3"}))
			Expect(h.ctrl.Snapshot().Queue).To(BeEmpty())
		})
	})

	Describe("display filter", func() {
		It("hides an Edit result but keeps it in the ledger and token total", func() {
			l := session.NewLedger(zerolog.Nop())
			l.Append(toolUseLine("abc", "t1", "Edit", `{"file_path":"a.go"}`))
			l.Append(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}],"usage":{"input_tokens":7,"output_tokens":3}}}`)

			Expect(l.Len()).To(Equal(2))
			Expect(l.Displayable()).To(HaveLen(1))
			Expect(l.TotalTokens()).To(Equal(10))
		})
	})

	Describe("cancellation", func() {
		DescribeTable("always leaves the controller idle and empty",
			func(setup func(*fakeLauncher)) {
				setup(h.launcher)

				_, err := h.ctrl.Submit(ctx, "P0", "")
				Expect(err).NotTo(HaveOccurred())
				_, err = h.ctrl.Submit(ctx, "P1", "")
				Expect(err).NotTo(HaveOccurred())
				h.agent.init("abc")

				Expect(h.ctrl.Cancel(ctx)).To(Succeed())

				snap := h.ctrl.Snapshot()
				Expect(snap.Busy).To(BeFalse())
				Expect(snap.Listening).To(Equal(session.Unattached))
				Expect(snap.Queue).To(BeEmpty())
			},
			Entry("abort resolves true", func(f *fakeLauncher) {}),
			Entry("abort resolves false", func(f *fakeLauncher) { f.killed = false }),
			Entry("abort fails", func(f *fakeLauncher) { f.cancelErr = errors.New("eperm") }),
			Entry("abort panics", func(f *fakeLauncher) { f.cancelPanic = true }),
		)
	})

	Describe("token total", func() {
		It("is stable and grows by the appended usage", func() {
			_, err := h.ctrl.Submit(ctx, "go", "")
			Expect(err).NotTo(HaveOccurred())
			h.agent.init("abc")

			first := h.ctrl.Snapshot().Tokens
			Expect(h.ctrl.Snapshot().Tokens).To(Equal(first))

			h.agent.say("abc", assistantLine("abc", "more"))
			Expect(h.ctrl.Snapshot().Tokens).To(Equal(first + 15))
		})
	})

	Describe("a full turn", func() {
		It("records the turn and requests one checkpoint", func() {
			_, err := h.ctrl.Submit(ctx, "fix bug", "sonnet")
			Expect(err).NotTo(HaveOccurred())

			h.agent.init("abc")
			h.agent.say("abc", assistantLine("abc", "fixed"))
			h.agent.say("abc", resultLine("abc"))
			h.agent.complete("abc", true)

			snap := h.ctrl.Snapshot()
			Expect(kinds(snap.Messages)).To(Equal([]string{"user", "system/init", "assistant", "result/success"}))
			Expect(snap.Messages[0].Text()).To(Equal("fix bug"))
			Expect(snap.Busy).To(BeFalse())
			Expect(h.checkpoints.Requests()).To(HaveLen(1))
			Expect(h.launcher.Calls()[0].Model).To(Equal("sonnet"))
		})
	})
})
