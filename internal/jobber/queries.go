package jobber

const queryProductsPage = `query GetProductsPage($first: Int!, $after: String) {
  productOrServices(first: $first, after: $after) {
    nodes {
      id
      name
      internalUnitCost
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
}`

const queryProductsPageWithCode = `query GetProductsPageWithCode($first: Int!, $after: String) {
  productOrServices(first: $first, after: $after) {
    nodes {
      id
      name
      code
      internalUnitCost
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
}`

const mutationUpdateCost = `mutation UpdateProductCost($productOrServiceId: EncodedId!, $internalUnitCost: Float!) {
  productsAndServicesEdit(productOrServiceId: $productOrServiceId, input: { internalUnitCost: $internalUnitCost }) {
    productOrService {
      id
    }
    userErrors {
      message
      path
    }
  }
}`

const mutationUpdateCostAndPrice = `mutation UpdateProductCostAndPrice($productOrServiceId: EncodedId!, $internalUnitCost: Float!, $unitPrice: Float!) {
  productsAndServicesEdit(productOrServiceId: $productOrServiceId, input: { internalUnitCost: $internalUnitCost, unitPrice: $unitPrice }) {
    productOrService {
      id
    }
    userErrors {
      message
      path
    }
  }
}`

const queryAccount = `query { account { id name } }`

const mutationAppDisconnect = `mutation AppDisconnect {
  appDisconnect {
    app {
      id
    }
    userErrors {
      message
    }
  }
}`

func pageQuery(withCode bool) string {
	if withCode {
		return queryProductsPageWithCode
	}
	return queryProductsPage
}
