package tracing_test

import (
	"context"

	"github.com/arXiv/arxiv-compiler/tracing"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ConfigureTracerProvider", func() {
	It("is a no-op when tracing is disabled", func() {
		tracing.Configured = false
		shutdown, err := tracing.ConfigureTracerProvider(context.Background(), tracing.Config{Enabled: false})
		Expect(err).NotTo(HaveOccurred())
		Expect(shutdown).NotTo(BeNil())
		Expect(tracing.Configured).To(BeFalse())
		Expect(shutdown(context.Background())).To(Succeed())
	})
})
