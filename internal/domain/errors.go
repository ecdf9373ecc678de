package domain

// Общие доменные ошибки
var (
	ErrMalformedEvent       = validationError("malformed event")
	ErrItemNotFound         = notFoundError("item not found")
	ErrOrderNotFound        = notFoundError("order not found")
	ErrOrderInProgress      = conflictError("order in progress")
	ErrInvalidTransition    = conflictError("invalid order transition")
	ErrGatewayCreateFailed  = gatewayError("gateway create failed")
	ErrGatewayExecuteFailed = gatewayError("gateway execute failed")
	ErrShuttingDown         = unavailableError("shutting down")
	ErrValidation           = validationError("invalid data")

	// Оплата прошла, но выдать товар не удалось: нужен ручной возврат.
	ErrFulfillmentUnavailable = fulfillmentError("fulfillment unavailable after payment")
)

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

type validationError string

func (e validationError) Error() string { return string(e) }

type conflictError string

func (e conflictError) Error() string { return string(e) }

type gatewayError string

func (e gatewayError) Error() string { return string(e) }

type unavailableError string

func (e unavailableError) Error() string { return string(e) }

type fulfillmentError string

func (e fulfillmentError) Error() string { return string(e) }
