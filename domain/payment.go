package domain

import "context"

// PaymentGateway is the slice of the payment processor this subsystem
// needs: finding and cancelling a customer's subscriptions during account
// erasure. The real client lives outside this repo and is injected at
// startup; deployments without billing wire nothing and the erasure path
// skips the cleanup.
type PaymentGateway interface {
	ListSubscriptions(ctx context.Context, customerID string) ([]string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}
