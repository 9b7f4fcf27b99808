// Package houseprice trains and serves a neural network that predicts house
// prices from the Housing tabular dataset.
//
// The repository is organised as a set of small packages:
//
//   - housing: the CSV schema, records and the seeded train/validation/test split
//   - features: the categorical codec that turns a record into a numeric row
//   - preprocessing: the standard scaler fit on training rows only
//   - neural: the MLP regressor trained with Adam and early stopping
//   - linear: a least squares baseline reported next to the network
//   - metrics: RMSE, MAE and R²
//   - artifact: the versioned bundle store with an atomic CURRENT pointer
//   - registry: a SQLite ledger of training runs
//   - training: the pipeline state machine that produces a bundle
//   - inference, api: the predictor and its HTTP surface
//
// # Quick Start
//
// Train on data/Housing.csv and publish a bundle under ./artifacts:
//
//	go run ./cmd/train -config config.yaml
//
// Serve the current bundle:
//
//	go run ./cmd/serve -config config.yaml
//
//	curl -s localhost:8000/predict -d '{"area":7420,"bedrooms":4,"bathrooms":2,
//	  "stories":3,"mainroad":"yes","guestroom":"no","basement":"no",
//	  "hotwaterheating":"no","airconditioning":"yes","parking":2,
//	  "prefarea":"yes","furnishingstatus":"furnished"}'
//
// # Error Handling
//
// Errors carry stack traces from github.com/cockroachdb/errors. Client
// mistakes such as an unknown furnishing status are typed so the HTTP layer
// can answer 400; a missing bundle answers 503.
package houseprice
