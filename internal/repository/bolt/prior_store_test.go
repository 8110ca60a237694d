package bolt_test

import (
	"path/filepath"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ledgerline/internal/domain"
	"ledgerline/internal/repository/bolt"
)

var _ = Describe("PriorStore", func() {
	var (
		store *bolt.PriorStore
	)

	BeforeEach(func() {
		var err error
		store, err = bolt.NewPriorStore(filepath.Join(GinkgoT().TempDir(), "prior.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			Expect(store.Close()).To(Succeed())
		}
	})

	newDraft := func(key string, descriptions ...string) *domain.InvoiceDraft {
		d := domain.NewDraft()
		d.ID = uuid.New()
		d.DocumentKey = key
		d.Status = domain.DraftStatusParsed
		for _, desc := range descriptions {
			d.LineItems = append(d.LineItems, domain.ValidatedLineItem{
				Description: desc,
				LineTotal:   domain.SomeMoney(1000),
				Discrepancy: domain.DiscrepancyNone,
			})
		}
		return d
	}

	Describe("Save", func() {
		var (
			draft *domain.InvoiceDraft
			err   error
		)

		JustBeforeEach(func() {
			err = store.Save(draft)
		})

		When("the draft has a document key", func() {
			BeforeEach(func() {
				draft = newDraft("acme-0042", "Tomatoes", "Onions")
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should be retrievable by ID", func() {
				saved, getErr := store.Get(draft.ID.String())
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.DocumentKey).To(Equal("acme-0042"))
				Expect(saved.LineItems).To(HaveLen(2))
				Expect(saved.LineItems[0].LineTotal).To(Equal(domain.SomeMoney(1000)))
			})
		})

		When("the draft has no document key", func() {
			BeforeEach(func() {
				draft = newDraft("")
			})

			It("should reject it", func() {
				Expect(err).To(MatchError(domain.ErrInvalidInput))
			})
		})
	})

	Describe("Latest", func() {
		var (
			key    string
			latest *domain.InvoiceDraft
			err    error
		)

		JustBeforeEach(func() {
			latest, err = store.Latest(key)
		})

		When("several drafts exist for the document", func() {
			var second *domain.InvoiceDraft

			BeforeEach(func() {
				key = "acme-0042"
				Expect(store.Save(newDraft(key, "Tomatoes"))).To(Succeed())
				second = newDraft(key, "Tomatoes", "Onions")
				Expect(store.Save(second)).To(Succeed())
				Expect(store.Save(newDraft("other-doc", "Flour"))).To(Succeed())
			})

			It("should return the last saved one", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(latest.ID).To(Equal(second.ID))
				Expect(latest.LineItems).To(HaveLen(2))
			})
		})

		When("the document is unknown", func() {
			BeforeEach(func() {
				key = "missing"
			})

			It("should return ErrNotFound", func() {
				Expect(err).To(MatchError(domain.ErrNotFound))
				Expect(latest).To(BeNil())
			})
		})
	})
})
