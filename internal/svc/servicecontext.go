package svc

import (
	"database/sql"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	"github.com/hypertrader/sentinel/internal/config"
	"github.com/hypertrader/sentinel/internal/data"
	"github.com/hypertrader/sentinel/internal/model"
	breakerpkg "github.com/hypertrader/sentinel/pkg/breaker"
	"github.com/hypertrader/sentinel/pkg/confkit"
	exchangepkg "github.com/hypertrader/sentinel/pkg/exchange"
	_ "github.com/hypertrader/sentinel/pkg/exchange/hyperliquid"
	executorpkg "github.com/hypertrader/sentinel/pkg/executor"
	llmpkg "github.com/hypertrader/sentinel/pkg/llm"
	managerpkg "github.com/hypertrader/sentinel/pkg/manager"
	marketpkg "github.com/hypertrader/sentinel/pkg/market"
	_ "github.com/hypertrader/sentinel/pkg/market/exchanges/hyperliquid"
	riskpkg "github.com/hypertrader/sentinel/pkg/risk"
	statepkg "github.com/hypertrader/sentinel/pkg/state"
)

type ServiceContext struct {
	Config config.Config

	DataLoader *data.DataLoader

	LLMConfig              *llmpkg.Config
	ExecutorConfig         *executorpkg.Config
	ManagerConfig          *managerpkg.Config
	ManagerPromptRenderers map[string]*managerpkg.PromptRenderer
	ManagerPromptDigests   map[string]string
	ExchangeConfig         *exchangepkg.Config
	ExchangeProviders      map[string]exchangepkg.Provider
	DefaultExchange        exchangepkg.Provider
	MarketConfig           *marketpkg.Config
	MarketProviders        map[string]marketpkg.Provider
	DefaultMarket          marketpkg.Provider
	ManagerTraderExchange  map[string]exchangepkg.Provider
	ManagerTraderMarket    map[string]marketpkg.Provider

	RiskManager  *riskpkg.Manager
	Breaker      *breakerpkg.Manager
	StateManager *statepkg.Manager
	Metrics      *Metrics

	// Optional DB models (injected but unused by handlers/logic for now)
	DBConn                      sqlx.SqlConn
	Cache                       gocache.Cache
	ModelsModel                 model.ModelsModel
	SymbolsModel                model.SymbolsModel
	PriceTicksModel             model.PriceTicksModel
	PriceLatestModel            model.PriceLatestModel
	AccountEquitySnapshotsModel model.AccountEquitySnapshotsModel
	PositionsModel              model.PositionsModel
	TradesModel                 model.TradesModel
	ModelAnalyticsModel         model.ModelAnalyticsModel
	ConversationsModel          model.ConversationsModel
	ConversationMessagesModel   model.ConversationMessagesModel
	DecisionCyclesModel         model.DecisionCyclesModel
	MarketAssetsModel           model.MarketAssetsModel
	MarketAssetCtxModel         model.MarketAssetCtxModel
	TraderStateModel            model.TraderStateModel
}

func NewServiceContext(c config.Config, mainConfigPath string) *ServiceContext {
	svc := &ServiceContext{
		Config:     c,
		DataLoader: data.NewDataLoader(c.DataPath),
	}

	baseDir := confkit.BaseDir(mainConfigPath)

	// Load LLM config if specified
	if c.LLM.File != "" {
		llmCfg, err := llmpkg.LoadConfig(confkit.ResolvePath(baseDir, c.LLM.File))
		if err != nil {
			log.Fatalf("failed to load llm config: %v", err)
		}
		// Apply test environment defaults: use low-cost model for good quality
		if c.IsTestEnv() {
			llmCfg.DefaultModel = "google/gemini-2.5-flash-lite"
		}
		svc.LLMConfig = llmCfg
	}

	// Load Executor config if specified
	if c.Executor.File != "" {
		executorCfg, err := executorpkg.LoadConfig(confkit.ResolvePath(baseDir, c.Executor.File))
		if err != nil {
			log.Fatalf("failed to load executor config: %v", err)
		}
		svc.ExecutorConfig = executorCfg
	}

	// Load Manager config if specified
	if c.Manager.File != "" {
		managerCfg, err := managerpkg.LoadConfig(confkit.ResolvePath(baseDir, c.Manager.File))
		if err != nil {
			log.Fatalf("failed to load manager config: %v", err)
		}
		// Build prompt renderers for each trader
		renderers := make(map[string]*managerpkg.PromptRenderer, len(managerCfg.Traders))
		digests := make(map[string]string, len(managerCfg.Traders))
		for i := range managerCfg.Traders {
			trader := &managerCfg.Traders[i]
			renderer, err := managerpkg.NewPromptRenderer(trader.PromptTemplate)
			if err != nil {
				log.Fatalf("failed to init manager prompt renderer for trader %s: %v", trader.ID, err)
			}
			renderers[trader.ID] = renderer
			digests[trader.ID] = renderer.Digest()
		}
		svc.ManagerConfig = managerCfg
		svc.ManagerPromptRenderers = renderers
		svc.ManagerPromptDigests = digests
	}

	// Load Exchange config if specified
	if c.Exchange.File != "" {
		exchangeCfg, err := exchangepkg.LoadConfig(confkit.ResolvePath(baseDir, c.Exchange.File))
		if err != nil {
			log.Fatalf("failed to load exchange config: %v", err)
		}
		// Apply test environment defaults: use testnet endpoints for all providers
		if c.IsTestEnv() {
			for _, provider := range exchangeCfg.Providers {
				provider.Testnet = true
			}
		}
		providers, err := exchangeCfg.BuildProviders()
		if err != nil {
			log.Fatalf("failed to build exchange providers: %v", err)
		}
		svc.ExchangeConfig = exchangeCfg
		svc.ExchangeProviders = providers
		if exchangeCfg.Default != "" {
			svc.DefaultExchange = providers[exchangeCfg.Default]
		}
	}

	// Load Market config if specified
	if c.Market.File != "" {
		marketCfg, err := marketpkg.LoadConfig(confkit.ResolvePath(baseDir, c.Market.File))
		if err != nil {
			log.Fatalf("failed to load market config: %v", err)
		}
		providers, err := marketCfg.BuildProviders()
		if err != nil {
			log.Fatalf("failed to build market providers: %v", err)
		}
		svc.MarketConfig = marketCfg
		svc.MarketProviders = providers
		if marketCfg.Default != "" {
			svc.DefaultMarket = providers[marketCfg.Default]
		}
	}

	// Validate cross-module references: manager trader -> exchange/market providers
	if svc.ManagerConfig != nil {
		svc.ManagerTraderExchange = make(map[string]exchangepkg.Provider, len(svc.ManagerConfig.Traders))
		svc.ManagerTraderMarket = make(map[string]marketpkg.Provider, len(svc.ManagerConfig.Traders))
		for i := range svc.ManagerConfig.Traders {
			trader := &svc.ManagerConfig.Traders[i]
			// Strict mapping: manager config requires explicit provider IDs
			exProvider, ok := svc.ExchangeProviders[trader.ExchangeProvider]
			if !ok {
				log.Fatalf("manager trader %s references unknown exchange provider %s", trader.ID, trader.ExchangeProvider)
			}
			svc.ManagerTraderExchange[trader.ID] = exProvider

			mktProvider, ok := svc.MarketProviders[trader.MarketProvider]
			if !ok {
				log.Fatalf("manager trader %s references unknown market provider %s", trader.ID, trader.MarketProvider)
			}
			svc.ManagerTraderMarket[trader.ID] = mktProvider
		}
	}

	svc.RiskManager = riskpkg.NewManager()
	svc.Breaker = breakerpkg.NewManager()
	svc.Metrics = NewMetrics()

	// Only inject DB models when DSN provided; business logic still uses DataLoader.
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		if len(c.Cache) > 0 {
			cacheCluster, cacheErr := gocache.NewCache(c.Cache, syncx.NewSingleFlight(), gocache.NewStat("sentinel"), sql.ErrNoRows)
			if cacheErr != nil {
				log.Fatalf("failed to init cache cluster: %v", cacheErr)
			}
			svc.Cache = cacheCluster
		}
		svc.StateManager = statepkg.New(conn, c.Name)
		svc.ModelsModel = model.NewModelsModel(conn, c.Cache)
		svc.SymbolsModel = model.NewSymbolsModel(conn, c.Cache)
		svc.PriceTicksModel = model.NewPriceTicksModel(conn, c.Cache)
		svc.PriceLatestModel = model.NewPriceLatestModel(conn, c.Cache)
		svc.AccountEquitySnapshotsModel = model.NewAccountEquitySnapshotsModel(conn, c.Cache)
		svc.PositionsModel = model.NewPositionsModel(conn, c.Cache)
		svc.TradesModel = model.NewTradesModel(conn, c.Cache)
		svc.ModelAnalyticsModel = model.NewModelAnalyticsModel(conn, c.Cache)
		svc.ConversationsModel = model.NewConversationsModel(conn, c.Cache)
		svc.ConversationMessagesModel = model.NewConversationMessagesModel(conn, c.Cache)
		svc.DecisionCyclesModel = model.NewDecisionCyclesModel(conn, c.Cache)
		svc.MarketAssetsModel = model.NewMarketAssetsModel(conn, c.Cache)
		svc.MarketAssetCtxModel = model.NewMarketAssetCtxModel(conn, c.Cache)
		svc.TraderStateModel = model.NewTraderStateModel(conn, c.Cache)
	}
	return svc
}
