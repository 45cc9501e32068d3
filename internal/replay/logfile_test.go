package replay_test

import (
	"strings"

	"github.com/kubev2v/role-normalizer/internal/replay"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const replayLog = `log_datetime,api_uri,api_request,api_response
2024-03-01 10:00:00,/v1/role_normalization,"{""titles"": [""Vendedor"", ""Qualquer cargo""]}","[1164, null]"
2024-03-01 10:00:01,/v1/role_normalization,"{""titles"": [""Tec enfermagem""]}","{""Tec enfermagem"": [{""normalized_role"": ""Técnico em Enfermagem"", ""role_id"": 1474}]}"
2024-03-01 10:00:02,/v1/role_normalization,"{""titles"": [""Analista""]}",
2024-03-01 10:00:03,/v1/role_normalization,,"[1]"
2024-03-01 10:00:04,/v1/role_normalization,"{""titles"": [""a"", ""b""]}","[1]"
2024-03-01 10:00:05,/v1/role_normalization,"{""titles"": [""Gerente""]}","{""Gerente"": [{""normalized_role"": ""Gerente"", ""role_id"": ""42""}]}"
`

var _ = Describe("log file", func() {
	Context("parse", func() {
		It("reads both response forms and skips invalid rows", func() {
			entries, stats, err := replay.ParseLog(strings.NewReader(replayLog))
			Expect(err).To(BeNil())
			Expect(stats.Rows).To(Equal(6))
			Expect(stats.Invalid).To(Equal(2))
			Expect(entries).To(HaveLen(4))

			Expect(entries[0].Line).To(Equal(2))
			Expect(entries[0].Timestamp.IsZero()).To(BeFalse())
			Expect(entries[0].Titles).To(Equal([]string{"Vendedor", "Qualquer cargo"}))
			Expect(*entries[0].Production[0]).To(Equal(int64(1164)))
			Expect(entries[0].Production[1]).To(BeNil())

			Expect(entries[1].Titles).To(Equal([]string{"Tec enfermagem"}))
			Expect(*entries[1].Production[0]).To(Equal(int64(1474)))

			Expect(entries[2].Titles).To(Equal([]string{"Analista"}))
			Expect(entries[2].Production).To(Equal([]*int64{nil}))

			Expect(*entries[3].Production[0]).To(Equal(int64(42)))
		})

		It("fails without the request column", func() {
			_, _, err := replay.ParseLog(strings.NewReader("log_datetime,api_uri\nx,y\n"))
			Expect(err).NotTo(BeNil())
		})

		It("lists titles production did not normalize", func() {
			entries, _, err := replay.ParseLog(strings.NewReader(replayLog))
			Expect(err).To(BeNil())
			Expect(replay.NonNormalizedTitles(entries)).To(Equal([]string{"Analista", "Qualquer cargo"}))
		})
	})

	Context("sample", func() {
		entries := make([]replay.LogEntry, 10)
		for i := range entries {
			entries[i] = replay.LogEntry{Line: i + 2}
		}

		It("keeps everything without a limit", func() {
			Expect(replay.Sample(entries, 0, 1)).To(HaveLen(10))
			Expect(replay.Sample(entries, 20, 1)).To(HaveLen(10))
		})

		It("is reproducible with a seed", func() {
			first := replay.Sample(entries, 3, 7)
			second := replay.Sample(entries, 3, 7)
			Expect(first).To(HaveLen(3))
			Expect(first).To(Equal(second))
			Expect(entries[0].Line).To(Equal(2))
		})
	})
})
