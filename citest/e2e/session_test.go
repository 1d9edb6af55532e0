package e2e_test

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/claudia/citest/testutil"
	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/pkg/types"
)

const turnTimeout = 10 * time.Second

var _ = Describe("Session Workflows", func() {
	var (
		handle string
		notes  string
	)

	idle := func() bool {
		st, err := client.Status(ctx, handle)
		Expect(err).NotTo(HaveOccurred())
		return !st.Busy
	}

	BeforeEach(func() {
		notes = filepath.Join(testServer.WorkDir, "notes.txt")
		os.Remove(notes)

		// A fresh controller per test; the first turn starts a new session.
		opened, err := client.OpenController(ctx, testServer.WorkDir, "")
		Expect(err).NotTo(HaveOccurred())
		handle = opened.ID
	})

	AfterEach(func() {
		client.Delete(ctx, "/controller/"+handle)
	})

	Describe("Turn lifecycle", func() {
		It("streams a turn to completion and records the session", func() {
			sse := testServer.SSEClient()
			Expect(sse.Connect(ctx, "/event?transport=false")).To(Succeed())
			defer sse.Close()

			resp, err := client.Prompt(ctx, handle, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Eventually(idle, turnTimeout, 50*time.Millisecond).Should(BeTrue())

			snap, err := client.Snapshot(ctx, handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.SessionID).To(Equal(testutil.AgentSessionID))
			Expect(snap.Error).To(BeNil())
			Expect(snap.Tokens).To(Equal(30))
			Expect(snap.Messages[0].Kind).To(Equal(types.KindUser))
			Expect(snap.Messages[len(snap.Messages)-1].Kind).To(Equal(types.KindResult))

			Expect(os.ReadFile(notes)).To(Equal([]byte("hello\n")))

			rec, err := client.Session(ctx, testutil.AgentSessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ProjectPath).To(Equal(testServer.WorkDir))

			Eventually(func() []string {
				var texts []string
				for _, m := range sse.Messages() {
					Expect(m.SessionID).To(Or(BeEmpty(), Equal(testutil.AgentSessionID)))
					if m.Message.Kind == types.KindAssistant {
						texts = append(texts, m.Message.Text())
					}
				}
				return texts
			}, turnTimeout).Should(ContainElement("done: hello"))
			Expect(sse.CountEventType(event.SessionStatus)).To(BeNumerically(">=", 2))
		})

		It("queues prompts submitted mid-turn and runs them in order", func() {
			resp, err := client.Prompt(ctx, handle, "first")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, err = client.Prompt(ctx, handle, "second")
			Expect(err).NotTo(HaveOccurred())
			if resp.StatusCode == http.StatusAccepted {
				Eventually(func() int {
					st, err := client.Status(ctx, handle)
					Expect(err).NotTo(HaveOccurred())
					return len(st.Queue)
				}, turnTimeout).Should(BeZero())
			}

			Eventually(func() []byte {
				data, _ := os.ReadFile(notes)
				return data
			}, turnTimeout, 50*time.Millisecond).Should(Equal([]byte("second\n")))
			Eventually(idle, turnTimeout, 50*time.Millisecond).Should(BeTrue())

			snap, err := client.Snapshot(ctx, handle)
			Expect(err).NotTo(HaveOccurred())
			var prompts []string
			for _, m := range snap.Messages {
				if m.Kind == types.KindUser && m.Text() != "" {
					prompts = append(prompts, m.Text())
				}
			}
			Expect(prompts).To(Equal([]string{"first", "second"}))
		})

		It("cancels a running turn", func() {
			resp, err := client.Prompt(ctx, handle, "slow")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			// Wait for the agent to report its session so it is cancellable by id.
			Eventually(func() string {
				st, err := client.Status(ctx, handle)
				Expect(err).NotTo(HaveOccurred())
				return st.SessionID
			}, turnTimeout).ShouldNot(BeEmpty())

			Expect(client.Cancel(ctx, handle)).To(Succeed())
			Expect(idle()).To(BeTrue())

			snap, err := client.Snapshot(ctx, handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Error).To(BeNil())
			Expect(snap.Queue).To(BeEmpty())

			Eventually(func() int { return len(testServer.Processes.Running()) }, turnTimeout).Should(BeZero())
		})

		It("reports an agent failure", func() {
			_, err := client.Prompt(ctx, handle, "fail")
			Expect(err).NotTo(HaveOccurred())

			Eventually(idle, turnTimeout, 50*time.Millisecond).Should(BeTrue())
			st, err := client.Status(ctx, handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Error).NotTo(BeNil())
			Expect(*st.Error).To(ContainSubstring("rate limited"))
		})
	})

	Describe("Checkpoints", func() {
		It("checkpoints a turn that wrote files, restores and forks it", func() {
			before, err := client.Checkpoints(ctx, testutil.AgentSessionID)
			Expect(err).NotTo(HaveOccurred())

			_, err = client.Prompt(ctx, handle, "original")
			Expect(err).NotTo(HaveOccurred())
			Eventually(idle, turnTimeout, 50*time.Millisecond).Should(BeTrue())

			var cps []*types.Checkpoint
			Eventually(func() int {
				cps, err = client.Checkpoints(ctx, testutil.AgentSessionID)
				Expect(err).NotTo(HaveOccurred())
				return len(cps)
			}, turnTimeout).Should(BeNumerically(">", len(before)))
			latest := cps[len(cps)-1]
			Expect(latest.Prompt).To(Equal("original"))
			Expect(latest.Files).NotTo(BeEmpty())

			Expect(os.WriteFile(notes, []byte("scribbled\n"), 0644)).To(Succeed())
			files, err := client.Restore(ctx, testutil.AgentSessionID, latest.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(ContainElement(ContainSubstring("notes.txt")))
			Expect(os.ReadFile(notes)).To(Equal([]byte("original\n")))

			fork, err := client.Fork(ctx, testutil.AgentSessionID, latest.ID, "experiment")
			Expect(err).NotTo(HaveOccurred())
			Expect(fork.ID).NotTo(Equal(testutil.AgentSessionID))
			Expect(fork.Name).To(Equal("experiment"))
			Expect(fork.ParentID).NotTo(BeNil())
			Expect(*fork.ParentID).To(Equal(testutil.AgentSessionID))

			// The fork's transcript is where the agent will look for it.
			transcript := filepath.Join(testServer.ProjectsDir, fork.ProjectID, fork.ID+".jsonl")
			Expect(transcript).To(BeARegularFile())

			// Resuming the fork runs the agent with --resume <fork id>.
			opened, err := client.OpenController(ctx, testServer.WorkDir, fork.ID)
			Expect(err).NotTo(HaveOccurred())
			defer client.Delete(ctx, "/controller/"+opened.ID)
			Expect(opened.Status.SessionID).To(Equal(fork.ID))

			_, err = client.Prompt(ctx, opened.ID, "branch")
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() bool {
				st, err := client.Status(ctx, opened.ID)
				Expect(err).NotTo(HaveOccurred())
				return !st.Busy
			}, turnTimeout, 50*time.Millisecond).Should(BeTrue())

			snap, err := client.Snapshot(ctx, opened.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.SessionID).To(Equal(fork.ID))
			Expect(snap.Messages[len(snap.Messages)-1].Kind).To(Equal(types.KindResult))
		})
	})
})
