package devnet

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/ledger/client"
	"github.com/bookingswap/swapengine/logger"
	"github.com/bookingswap/swapengine/pkg/restapi"
)

const maxTxSize = 64 * 1024

type (
	// RestAPI serves the ledger REST protocol on top of the Node.
	RestAPI struct {
		Node *Node
		rw   *restapi.ResponseWriter
	}

	InfoResponse struct {
		Name        string `json:"name"`
		RoundNumber uint64 `json:"roundNumber,string"`
		TxCount     uint64 `json:"txCount,string"`
	}
)

func NewRestAPI(node *Node, log *slog.Logger) *RestAPI {
	return &RestAPI{
		Node: node,
		rw: restapi.NewResponseWriter(func(err error) {
			log.Error("devnet REST API", logger.Error(err))
		}).
			WithStatus(ErrUnsupportedTxType, http.StatusBadRequest).
			WithStatus(ledger.ErrTxNotFound, http.StatusNotFound).
			WithStatus(ledger.ErrUnitNotFound, http.StatusNotFound),
	}
}

func (api *RestAPI) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	apiRouter := router.PathPrefix("/api").Subrouter()
	// content-type needs to be explicitly allowed, otherwise cors filter is not applied
	apiRouter.Use(handlers.CORS(handlers.AllowedHeaders([]string{restapi.ContentType})))

	apiV1 := apiRouter.PathPrefix("/v1").Subrouter()
	apiV1.HandleFunc("/transactions", api.postTransaction).Methods("POST", "OPTIONS")
	apiV1.HandleFunc("/transactions/{txId}", api.getTransaction).Methods("GET", "OPTIONS")
	apiV1.HandleFunc("/units/{unitId}", api.getUnit).Methods("GET", "OPTIONS")
	apiV1.HandleFunc("/round-number", api.getRoundNumber).Methods("GET", "OPTIONS")
	apiV1.HandleFunc("/info", api.getInfo).Methods("GET", "OPTIONS")
	return router
}

func (api *RestAPI) postTransaction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTxSize)
	tx := &ledger.TransactionOrder{}
	if !api.rw.DecodeRequest(w, r, tx) {
		return
	}
	txID, err := api.Node.SubmitTransaction(r.Context(), tx)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponseStatus(w, http.StatusAccepted, &client.SubmitTxResponse{TxID: txID})
}

func (api *RestAPI) getTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := ledger.ParseTxID(mux.Vars(r)["txId"])
	if err != nil {
		api.rw.InvalidParamResponse(w, "txId", err)
		return
	}
	rec, err := api.Node.QueryTransaction(r.Context(), txID)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteCborResponse(w, rec)
}

func (api *RestAPI) getUnit(w http.ResponseWriter, r *http.Request) {
	unitID, err := ledger.ParseUnitID(mux.Vars(r)["unitId"])
	if err != nil {
		api.rw.InvalidParamResponse(w, "unitId", err)
		return
	}
	unit, err := api.Node.GetUnit(r.Context(), unitID)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteCborResponse(w, unit)
}

func (api *RestAPI) getRoundNumber(w http.ResponseWriter, r *http.Request) {
	nr, err := api.Node.GetRoundNumber(r.Context())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &client.RoundNumberResponse{RoundNumber: nr})
}

func (api *RestAPI) getInfo(w http.ResponseWriter, r *http.Request) {
	nr, err := api.Node.GetRoundNumber(r.Context())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &InfoResponse{Name: "swapengine devnet", RoundNumber: nr, TxCount: api.Node.TxCount()})
}
