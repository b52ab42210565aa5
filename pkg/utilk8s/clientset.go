/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package utilk8s

import (
	"fmt"
	"path/filepath"

	"github.com/samber/lo"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const DefaultKubeContext = ""

// LoadRESTConfig reads the kubeconfig chain at kubeconfigPath (OS list separator allowed).
// An empty path uses $KUBECONFIG, ~/.kube/config and finally the in-cluster service account.
// If contextName is not empty, the context under that name is used instead of the current one.
func LoadRESTConfig(kubeconfigPath, contextName string) (*rest.Config, error) {
	var configOverrides *clientcmd.ConfigOverrides
	if contextName != DefaultKubeContext {
		configOverrides = &clientcmd.ConfigOverrides{
			CurrentContext: contextName,
		}
	}

	var loadingRules *clientcmd.ClientConfigLoadingRules
	kubeconfigFiles := lo.Uniq(lo.Compact(filepath.SplitList(kubeconfigPath)))
	switch len(kubeconfigFiles) {
	case 0:
		loadingRules = clientcmd.NewDefaultClientConfigLoadingRules()
	case 1:
		loadingRules = &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigFiles[0]}
	default:
		loadingRules = &clientcmd.ClientConfigLoadingRules{
			Precedence:       kubeconfigFiles,
			WarnIfAllMissing: true,
		}
	}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("reading kubeconfig file: %w", err)
	}
	return config, nil
}

// SetupK8sClientSet constructs a kubernetes clientset from the kubeconfig chain.
func SetupK8sClientSet(kubeconfigPath, contextName string) (*rest.Config, kubernetes.Interface, error) {
	config, err := LoadRESTConfig(kubeconfigPath, contextName)
	if err != nil {
		return nil, nil, err
	}

	kubeCl, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing Kubernetes clientset: %w", err)
	}

	return config, kubeCl, nil
}
