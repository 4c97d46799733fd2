package watchtower

import (
	"context"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchtower-go/agreement"
)

// Submitter sends published claim bundles to the smart chain.
type Submitter struct {
	wt     *Watchtower
	sender agreement.TxSender
	signer agreement.Signer
	log    logger.FieldLogger
}

func NewSubmitter(wt *Watchtower, sender agreement.TxSender, signer agreement.Signer) *Submitter {
	return &Submitter{
		wt:     wt,
		sender: sender,
		signer: signer,
		log:    wt.log.WithField("module", "submitter"),
	}
}

// Submit sends the bundle if it is still claimable at the current tip.
// It returns "" without error when there was nothing to send. A revert
// marks the escrow as failed; on other errors the claim lock is left to
// expire so the next sync retries.
func (s *Submitter) Submit(ctx context.Context, id string, bundle agreement.ClaimBundle) (string, error) {
	log := s.log.WithField("id", id)

	txs, err := bundle.GetTxs(ctx, s.wt.TipHeight(), true)
	if err != nil {
		prometheusWatchtowerClaimsSubmitted.WithLabelValues("error").Inc()
		return "", err
	}
	if len(txs) == 0 {
		log.Debug("bundle no longer claimable")
		prometheusWatchtowerClaimsSubmitted.WithLabelValues("skipped").Inc()
		bundle.Release()
		return "", nil
	}

	txID, err := s.sender.SendAndConfirm(ctx, s.signer, txs)
	if agreement.IsRevertedError(err) {
		prometheusWatchtowerClaimsSubmitted.WithLabelValues("reverted").Inc()
		if _, markErr := s.wt.MarkClaimReverted(ctx, id); markErr != nil {
			log.WithError(markErr).Error("failed to mark claim reverted")
		}
		return "", err
	}
	if err != nil {
		prometheusWatchtowerClaimsSubmitted.WithLabelValues("error").Inc()
		return "", err
	}

	prometheusWatchtowerClaimsSubmitted.WithLabelValues("success").Inc()
	log.WithFields(logger.Fields{"txId": txID, "txs": len(txs)}).Info("claim submitted")
	bundle.Release()
	return txID, nil
}

// Run submits jobs from the channel until ctx is done.
func (s *Submitter) Run(ctx context.Context, jobs <-chan ClaimJob) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-jobs:
			if _, err := s.Submit(ctx, job.ID, job.Bundle); err != nil {
				s.log.WithError(err).WithField("id", job.ID).Error("claim submission failed")
			}
		}
	}
}
